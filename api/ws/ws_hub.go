package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/service"
)

type subscription struct {
	client    *Client
	sessionId string
}

type boardBroadcast struct {
	sessionId string
	message   []byte
}

// Hub maintains the set of active clients and broadcasts board and
// directory messages to them. All maps are owned by the Run goroutine;
// redis handlers hand messages over through channels.
type Hub struct {
	classroomCache          cache.ClassroomCache
	OpenCh                  chan *Client
	CloseCh                 chan *Client
	SubscribeCh             chan subscription
	UnsubscribeCh           chan subscription
	DirectorySubscribeCh    chan *Client
	DirectoryUnsubscribeCh  chan *Client
	UserDeletedCh           chan string
	boardBroadcastCh        chan boardBroadcast
	directoryBroadcastCh    chan []byte
	userToClients           map[string]map[*Client]struct{}
	boardToClients          map[string]map[*Client]struct{}
	boardToSubscriberCancel map[string]context.CancelFunc
	directoryClients        map[*Client]struct{}
}

func NewHub(classroomCache cache.ClassroomCache) *Hub {
	return &Hub{
		classroomCache:          classroomCache,
		OpenCh:                  make(chan *Client, 256),
		CloseCh:                 make(chan *Client, 256),
		SubscribeCh:             make(chan subscription, 1024),
		UnsubscribeCh:           make(chan subscription, 1024),
		DirectorySubscribeCh:    make(chan *Client, 256),
		DirectoryUnsubscribeCh:  make(chan *Client, 256),
		UserDeletedCh:           make(chan string, 64),
		boardBroadcastCh:        make(chan boardBroadcast, 4096),
		directoryBroadcastCh:    make(chan []byte, 256),
		userToClients:           make(map[string]map[*Client]struct{}),
		boardToClients:          make(map[string]map[*Client]struct{}),
		boardToSubscriberCancel: make(map[string]context.CancelFunc),
		directoryClients:        make(map[*Client]struct{}),
	}
}

const (
	maxConnectionsPerUser         = 3
	maxSubscriptionsPerConnection = 50
)

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, cancel := range h.boardToSubscriberCancel {
				cancel()
			}
			return

		case client := <-h.OpenCh:
			if client.closed() {
				continue
			}
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				client.Close()
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for sessionId := range client.subscribedBoards {
				h.removeFromBoard(client, sessionId)
			}
			delete(h.directoryClients, client)
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}

		// A client's close can be picked before its earlier subscribe; a
		// closed client must not be added back.
		case sub := <-h.SubscribeCh:
			if sub.client.closed() {
				continue
			}
			if _, ok := sub.client.subscribedBoards[sub.sessionId]; ok {
				continue
			}
			if len(sub.client.subscribedBoards) >= maxSubscriptionsPerConnection {
				log.Printf("Connection by user %s reached max subscriptions (%d)", sub.client.user.Id, maxSubscriptionsPerConnection)
				continue
			}
			if h.boardToClients[sub.sessionId] == nil {
				if err := h.subscribeBoard(sub.sessionId); err != nil {
					log.Printf("Failed to create redis sub for board %s: %v", sub.sessionId, err)
					continue
				}
			}
			h.boardToClients[sub.sessionId][sub.client] = struct{}{}
			sub.client.subscribedBoards[sub.sessionId] = struct{}{}

		case unsub := <-h.UnsubscribeCh:
			h.removeFromBoard(unsub.client, unsub.sessionId)

		case client := <-h.DirectorySubscribeCh:
			if client.closed() {
				continue
			}
			h.directoryClients[client] = struct{}{}

		case client := <-h.DirectoryUnsubscribeCh:
			delete(h.directoryClients, client)

		case msg := <-h.boardBroadcastCh:
			for client := range h.boardToClients[msg.sessionId] {
				client.Enqueue(msg.message)
			}

		case msg := <-h.directoryBroadcastCh:
			for client := range h.directoryClients {
				client.Enqueue(msg)
			}

		case userId := <-h.UserDeletedCh:
			for client := range h.userToClients[userId] {
				client.Close()
			}
		}
	}
}

func (h *Hub) subscribeBoard(sessionId string) error {
	log.Printf("Subscriber does not exist, creating for board: %s", sessionId)

	ctx, cancel := context.WithCancel(context.Background())
	err := h.classroomCache.Subscribe(ctx, cache.BoardChannel(sessionId), func(messageBytes []byte) {
		h.boardBroadcastCh <- boardBroadcast{sessionId: sessionId, message: messageBytes}
	})
	if err != nil {
		cancel()
		return err
	}

	h.boardToClients[sessionId] = make(map[*Client]struct{})
	h.boardToSubscriberCancel[sessionId] = cancel
	return nil
}

func (h *Hub) removeFromBoard(client *Client, sessionId string) {
	delete(h.boardToClients[sessionId], client)
	delete(client.subscribedBoards, sessionId)
	if len(h.boardToClients[sessionId]) == 0 {
		if cancel, ok := h.boardToSubscriberCancel[sessionId]; ok {
			cancel()
			delete(h.boardToSubscriberCancel, sessionId)
		}
		delete(h.boardToClients, sessionId)
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.classroomCache.Subscribe(shutdownCtx, cache.UserDeletedChannel, func(message []byte) {
		var userDeletedMsg service.UserDeletedMessage
		if err := json.Unmarshal(message, &userDeletedMsg); err == nil {
			h.UserDeletedCh <- userDeletedMsg.UserId
		}
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to %s: %v", cache.UserDeletedChannel, err)
		return err
	}

	err = h.classroomCache.Subscribe(shutdownCtx, cache.DirectoryChannel, func(message []byte) {
		h.directoryBroadcastCh <- message
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to %s: %v", cache.DirectoryChannel, err)
		return err
	}

	return nil
}
