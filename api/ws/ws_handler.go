package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/service"
)

const Subprotocol = "learnlink-v1"

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == allowedOrigin
		},
		Subprotocols: []string{Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. Browsers cannot set
// headers on a websocket, so the token travels as the second subprotocol.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 || strings.TrimSpace(protocolsSplit[0]) != Subprotocol {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.Service.NewPointGate(), h.HandleWsMessage)
	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type boardMessage struct {
	SessionId string `json:"sessionId"`
}

type pointMessage struct {
	SessionId string      `json:"sessionId"`
	GestureId string      `json:"gestureId"`
	Tool      models.Tool `json:"tool"`
	Color     string      `json:"color"`
	Width     int         `json:"width"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
}

type drawMessage struct {
	SessionId string        `json:"sessionId"`
	Stroke    models.Stroke `json:"stroke"`
}

type responseMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "load", "subscribe", "unsubscribe", "undo", "redo", "clear":
		var boardMsg boardMessage
		if err := json.Unmarshal(msg.Data, &boardMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		resp = h.handleBoardOp(client, msg.Type, boardMsg)

	case "point":
		var pointMsg pointMessage
		if err := json.Unmarshal(msg.Data, &pointMsg); err != nil {
			log.Printf("Invalid point data: %v", err)
			return
		}
		resp = h.handlePoint(client, pointMsg)

	case "draw":
		var drawMsg drawMessage
		if err := json.Unmarshal(msg.Data, &drawMsg); err != nil {
			log.Printf("Invalid draw data: %v", err)
			return
		}
		resp = h.handleDraw(client, drawMsg)

	case "directory_subscribe":
		h.Hub.DirectorySubscribeCh <- client
		resp = responseMessage{Type: "directory_subscribe_response", Data: map[string]any{"success": true}}

	case "directory_unsubscribe":
		h.Hub.DirectoryUnsubscribeCh <- client
		resp = responseMessage{Type: "directory_unsubscribe_response", Data: map[string]any{"success": true}}

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Enqueue(respBytes)
	}
}

func failure(resp responseMessage, err error) responseMessage {
	resp.Data["success"] = false
	resp.Data["error"] = err.Error()
	return resp
}

func (h *Handler) handleBoardOp(client *Client, op string, boardMsg boardMessage) responseMessage {
	ctx := context.Background()
	sessionId := boardMsg.SessionId
	resp := responseMessage{
		Type: op + "_response",
		Data: map[string]any{"success": true, "sessionId": sessionId},
	}

	switch op {
	case "load":
		strokes, err := h.Service.LoadBoard(ctx, sessionId)
		if err != nil {
			log.Printf("LoadBoard failed: %v", err)
			resp.Data["strokes"] = []models.Stroke{}
			return failure(resp, err)
		}
		resp.Data["strokes"] = strokes

	case "subscribe":
		if _, err := h.Service.GetSession(ctx, sessionId); err != nil {
			log.Printf("Subscribe to board %s failed: %v", sessionId, err)
			return failure(resp, err)
		}
		h.Hub.SubscribeCh <- subscription{client: client, sessionId: sessionId}

	case "unsubscribe":
		if err := service.ValidateSessionId(sessionId); err != nil {
			return failure(resp, err)
		}
		h.Hub.UnsubscribeCh <- subscription{client: client, sessionId: sessionId}

	case "undo":
		stroke, err := h.Service.Undo(ctx, client.history(sessionId), client.user, sessionId)
		if err != nil {
			if !errors.Is(err, service.ErrNothingToUndo) {
				log.Printf("UndoStroke failed: %v", err)
			}
			return failure(resp, err)
		}
		resp.Data["strokeId"] = stroke.Id

	case "redo":
		stroke, err := h.Service.Redo(ctx, client.history(sessionId), client.user, sessionId)
		if err != nil {
			if !errors.Is(err, service.ErrNothingToRedo) {
				log.Printf("Redo failed: %v", err)
			}
			return failure(resp, err)
		}
		resp.Data["strokeId"] = stroke.Id

	case "clear":
		watermark, err := h.Service.ClearBoard(ctx, client.user, sessionId)
		if err != nil {
			log.Printf("ClearBoard failed: %v", err)
			return failure(resp, err)
		}
		delete(client.histories, sessionId)
		resp.Data["clearedBefore"] = watermark
	}

	return resp
}

// handlePoint answers only failures; a successful point is visible to the
// sender through the board channel like to everyone else.
func (h *Handler) handlePoint(client *Client, pointMsg pointMessage) responseMessage {
	err := h.Service.RelayPoint(context.Background(), client.gate, service.RelayParams{
		User:      client.user,
		SessionId: pointMsg.SessionId,
		GestureId: pointMsg.GestureId,
		Tool:      pointMsg.Tool,
		Color:     pointMsg.Color,
		Width:     pointMsg.Width,
		Point:     models.Point{X: pointMsg.X, Y: pointMsg.Y},
		Timestamp: time.Now(),
	})
	if err == nil || errors.Is(err, service.ErrPointThrottled) {
		return responseMessage{}
	}

	resp := responseMessage{
		Type: "point_response",
		Data: map[string]any{"sessionId": pointMsg.SessionId, "gestureId": pointMsg.GestureId},
	}
	return failure(resp, err)
}

func (h *Handler) handleDraw(client *Client, drawMsg drawMessage) responseMessage {
	resp := responseMessage{
		Type: "draw_response",
		Data: map[string]any{
			"success":   true,
			"sessionId": drawMsg.SessionId,
			"gestureId": drawMsg.Stroke.GestureId,
		},
	}

	stroke, err := h.Service.Draw(context.Background(), client.history(drawMsg.SessionId), service.DrawParams{
		User:      client.user,
		SessionId: drawMsg.SessionId,
		Stroke:    drawMsg.Stroke,
	})
	if err != nil {
		log.Printf("DrawStroke failed: %v", err)
		return failure(resp, err)
	}

	resp.Data["strokeId"] = stroke.Id
	return resp
}
