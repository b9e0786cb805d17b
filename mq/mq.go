package mq

import "context"

// MessageQueue carries background purge jobs. Receive returns a nil message
// when a poll ends without work.
type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	// Id is the receipt handle needed to acknowledge the message.
	Id   string
	Body string
}
