package ws

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/service"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 16

	// Rate limiting: live points arrive every 16ms while drawing
	messagesPerSecond = 80
	burstLimit        = 120
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, user models.User, gate *service.PointGate, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:              hub,
		conn:             conn,
		user:             user,
		handler:          handler,
		subscribedBoards: make(map[string]struct{}),
		gate:             gate,
		histories:        make(map[string]*service.StrokeHistory),
		Send:             make(chan []byte, 256),
		ctx:              ctx,
		cancel:           cancel,
		limiter:          rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	user    models.User
	handler MessageHandler

	// owned by the hub goroutine
	subscribedBoards map[string]struct{}

	// owned by the read goroutine
	gate      *service.PointGate
	histories map[string]*service.StrokeHistory

	Send    chan []byte // Buffered channel of outbound messages.
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
}

// Enqueue queues a message for the write pump. A client that cannot keep
// up is disconnected.
func (c *Client) Enqueue(message []byte) {
	select {
	case <-c.ctx.Done():
	case c.Send <- message:
	default:
		log.Printf("Send buffer full for user %s, closing connection", c.user.Id)
		c.Close()
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) closed() bool {
	return c.ctx.Err() != nil
}

// history returns the connection's undo history for a board.
func (c *Client) history(sessionId string) *service.StrokeHistory {
	h, ok := c.histories[sessionId]
	if !ok {
		if len(c.histories) >= maxSubscriptionsPerConnection {
			for id := range c.histories {
				delete(c.histories, id)
				break
			}
		}
		h = service.NewStrokeHistory()
		c.histories[sessionId] = h
	}
	return h
}

func (c *Client) ReadPump() {
	defer func() {
		// closed before the hub hears of it
		c.Close()
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection for user %s: message rate limit exceeded", c.user.Id)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Connection closed by server"),
			)
			return

		case <-shutdownCtx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			return
		}
	}
}
