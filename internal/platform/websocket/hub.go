// Package websocket is the real-time layer. Clients join rooms (the session
// id of a TEXT consultation) and receive events broadcast to those rooms,
// plus in-app notifications pushed to their personal user topic.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/auth"
)

// Outbound event types.
const (
	EventJoined         = "joined"
	EventLeft           = "left"
	EventReceiveMessage = "receive_message"
	EventNotification   = "notification"
	EventError          = "error"
)

// Event is a message sent to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event. Marshal failures leave Data empty.
func NewEvent(typ, room string, data interface{}) Event {
	evt := Event{Type: typ, Room: room, Timestamp: time.Now().UTC()}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	return evt
}

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action  string `json:"action"`
	Room    string `json:"room"`
	Content string `json:"content,omitempty"`
}

// RoomService authorizes room membership and handles chat sends. It is
// implemented by the messaging domain.
type RoomService interface {
	CanJoin(ctx context.Context, caller auth.Identity, room string) error
	SendToRoom(ctx context.Context, caller auth.Identity, room, content string) error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	Identity auth.Identity
	Topics   []string
	Send     chan []byte
}

// UserTopic is the personal topic every connection of userID subscribes to.
func UserTopic(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Hub tracks clients and their topic subscriptions. All operations are
// thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.subscribeLocked(client, topic)
	}
}

// Unregister removes a client from the hub and all its topics, and closes
// its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.unsubscribeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) subscribeLocked(client *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) unsubscribeLocked(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribe adds topic to an already-registered client. Subscribing twice
// is a no-op.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[topic][client]; ok {
		return
	}
	h.subscribeLocked(client, topic)
	client.Topics = append(client.Topics, topic)
}

// Unsubscribe removes topic from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsubscribeLocked(client, topic)
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if t != topic {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// IsSubscribed reports whether client currently receives topic.
func (h *Hub) IsSubscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[topic][client]
	return ok
}

// Broadcast sends an event to all clients subscribed to topic. Clients with
// a full buffer are skipped.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("websocket: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket: client buffer full, dropping event")
		}
	}
}

// PushToUser delivers event to every open connection of userID.
func (h *Hub) PushToUser(userID uuid.UUID, event Event) {
	h.Broadcast(UserTopic(userID), event)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// WebSocketHandler, the echo handler for WebSocket connections
// ---------------------------------------------------------------------------

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketHandler handles HTTP-to-WebSocket upgrades and message routing.
type WebSocketHandler struct {
	hub      *Hub
	rooms    RoomService
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a handler bound to hub. An empty
// allowedOrigins accepts any origin.
func NewWebSocketHandler(hub *Hub, rooms RoomService, allowedOrigins []string, logger zerolog.Logger) *WebSocketHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "*" {
			origins[o] = true
		}
	}
	return &WebSocketHandler{
		hub:   hub,
		rooms: rooms,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
		logger: logger,
	}
}

// RegisterRoutes registers the WebSocket endpoint. mw must include JWT
// middleware that accepts ?token=.
func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/ws", wsh.HandleConnect, mw...)
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client on its personal topic, and starts read/write pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.New().String(),
		Identity: id,
		Topics:   []string{UserTopic(id.UserID)},
		Send:     make(chan []byte, 256),
	}
	wsh.hub.Register(client)

	ctx := context.WithoutCancel(c.Request().Context())
	go wsh.writePump(client, ws)
	go wsh.readPump(ctx, client, ws)

	return nil
}

// HandleMessage applies one client action. Failures are reported back to
// the client as an error event. It runs on the read pump, so client.Send is
// still open.
func (wsh *WebSocketHandler) HandleMessage(ctx context.Context, client *Client, msg ClientMessage) {
	if msg.Room == "" {
		wsh.reply(client, NewEvent(EventError, "", map[string]string{"message": "room is required"}))
		return
	}

	switch msg.Action {
	case "join":
		if err := wsh.rooms.CanJoin(ctx, client.Identity, msg.Room); err != nil {
			wsh.reply(client, NewEvent(EventError, msg.Room, map[string]string{"message": err.Error()}))
			return
		}
		wsh.hub.Subscribe(client, msg.Room)
		wsh.reply(client, NewEvent(EventJoined, msg.Room, nil))
	case "leave":
		wsh.hub.Unsubscribe(client, msg.Room)
		wsh.reply(client, NewEvent(EventLeft, msg.Room, nil))
	case "send":
		if !wsh.hub.IsSubscribed(client, msg.Room) {
			wsh.reply(client, NewEvent(EventError, msg.Room, map[string]string{"message": "join the room before sending"}))
			return
		}
		if err := wsh.rooms.SendToRoom(ctx, client.Identity, msg.Room, msg.Content); err != nil {
			wsh.reply(client, NewEvent(EventError, msg.Room, map[string]string{"message": err.Error()}))
		}
	default:
		wsh.reply(client, NewEvent(EventError, msg.Room, map[string]string{"message": "unknown action " + msg.Action}))
	}
}

func (wsh *WebSocketHandler) reply(client *Client, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (wsh *WebSocketHandler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				wsh.logger.Debug().Err(err).Str("client_id", client.ID).Msg("websocket: read failed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			wsh.reply(client, NewEvent(EventError, "", map[string]string{"message": "malformed message"}))
			continue
		}
		wsh.HandleMessage(ctx, client, msg)
	}
}

func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
