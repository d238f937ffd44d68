package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/auth"
)

func newTestHub() *Hub {
	return NewHub(zerolog.New(io.Discard))
}

func newClient(id string, topics ...string) *Client {
	return &Client{
		ID:       id,
		Identity: auth.Identity{UserID: uuid.New(), Role: auth.RolePatient},
		Topics:   topics,
		Send:     make(chan []byte, 16),
	}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatalf("client %s: channel closed", c.ID)
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("client %s: no event received", c.ID)
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s: unexpected event %s", c.ID, msg)
	default:
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := newClient("client-1", "room-a")

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("room-a") != 1 {
		t.Fatalf("expected 1 client on room-a, got %d", hub.TopicCount("room-a"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := newClient("client-2", "room-b")

	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("room-b") != 0 {
		t.Fatalf("expected 0 clients on room-b, got %d", hub.TopicCount("room-b"))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_BroadcastToRoom(t *testing.T) {
	hub := newTestHub()
	c1 := newClient("c1", "session-1")
	c2 := newClient("c2", "session-1")
	c3 := newClient("c3", "session-2")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	hub.Broadcast("session-1", NewEvent(EventReceiveMessage, "session-1", map[string]string{"content": "hello"}))

	for _, c := range []*Client{c1, c2} {
		evt := receive(t, c)
		if evt.Type != EventReceiveMessage || evt.Room != "session-1" {
			t.Errorf("client %s: unexpected event %+v", c.ID, evt)
		}
		var payload map[string]string
		if err := json.Unmarshal(evt.Data, &payload); err != nil || payload["content"] != "hello" {
			t.Errorf("client %s: unexpected payload %s", c.ID, evt.Data)
		}
	}
	expectNothing(t, c3)
}

func TestHub_PushToUser(t *testing.T) {
	hub := newTestHub()
	userID := uuid.New()
	phone := newClient("phone", UserTopic(userID))
	laptop := newClient("laptop", UserTopic(userID))
	other := newClient("other", UserTopic(uuid.New()))
	hub.Register(phone)
	hub.Register(laptop)
	hub.Register(other)

	hub.PushToUser(userID, NewEvent(EventNotification, "", map[string]string{"title": "Appointment confirmed"}))

	receive(t, phone)
	receive(t, laptop)
	expectNothing(t, other)
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub()
	client := newClient("c")
	hub.Register(client)

	hub.Subscribe(client, "room")
	hub.Subscribe(client, "room")

	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic, got %v", client.Topics)
	}
	if !hub.IsSubscribed(client, "room") {
		t.Fatal("expected client to be subscribed")
	}

	hub.Unsubscribe(client, "room")
	if hub.IsSubscribed(client, "room") || len(client.Topics) != 0 {
		t.Fatalf("expected client to be unsubscribed, topics=%v", client.Topics)
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	hub.Broadcast("nobody-here", NewEvent(EventReceiveMessage, "nobody-here", nil))
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(uuid.NewString(), "shared")
			hub.Register(c)
			hub.Broadcast("shared", NewEvent(EventReceiveMessage, "shared", nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

type fakeRooms struct {
	mu      sync.Mutex
	allowed map[string]bool
	sent    []string
	sendErr error
}

func (f *fakeRooms) CanJoin(_ context.Context, _ auth.Identity, room string) error {
	if !f.allowed[room] {
		return errors.New("not a participant of this session")
	}
	return nil
}

func (f *fakeRooms) SendToRoom(_ context.Context, _ auth.Identity, room, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, room+":"+content)
	f.mu.Unlock()
	return nil
}

func newTestHandler(rooms *fakeRooms) (*WebSocketHandler, *Hub) {
	hub := newTestHub()
	return NewWebSocketHandler(hub, rooms, nil, zerolog.New(io.Discard)), hub
}

func TestHandleMessage_JoinAllowed(t *testing.T) {
	h, hub := newTestHandler(&fakeRooms{allowed: map[string]bool{"session-1": true}})
	client := newClient("c")
	hub.Register(client)

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "join", Room: "session-1"})

	if evt := receive(t, client); evt.Type != EventJoined {
		t.Fatalf("expected joined, got %s", evt.Type)
	}
	if !hub.IsSubscribed(client, "session-1") {
		t.Fatal("expected client to be in the room")
	}
}

func TestHandleMessage_JoinDenied(t *testing.T) {
	h, hub := newTestHandler(&fakeRooms{allowed: map[string]bool{}})
	client := newClient("c")
	hub.Register(client)

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "join", Room: "session-1"})

	if evt := receive(t, client); evt.Type != EventError {
		t.Fatalf("expected error event, got %s", evt.Type)
	}
	if hub.IsSubscribed(client, "session-1") {
		t.Fatal("client must not join a room it is not allowed in")
	}
}

func TestHandleMessage_SendRequiresJoin(t *testing.T) {
	rooms := &fakeRooms{allowed: map[string]bool{"session-1": true}}
	h, hub := newTestHandler(rooms)
	client := newClient("c")
	hub.Register(client)

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "send", Room: "session-1", Content: "hi"})
	if evt := receive(t, client); evt.Type != EventError {
		t.Fatalf("expected error event, got %s", evt.Type)
	}
	if len(rooms.sent) != 0 {
		t.Fatal("nothing should be sent before joining")
	}

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "join", Room: "session-1"})
	receive(t, client)
	h.HandleMessage(context.Background(), client, ClientMessage{Action: "send", Room: "session-1", Content: "hi"})

	if len(rooms.sent) != 1 || rooms.sent[0] != "session-1:hi" {
		t.Fatalf("expected one send, got %v", rooms.sent)
	}
}

func TestHandleMessage_LeaveAndUnknown(t *testing.T) {
	h, hub := newTestHandler(&fakeRooms{allowed: map[string]bool{"session-1": true}})
	client := newClient("c")
	hub.Register(client)

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "join", Room: "session-1"})
	receive(t, client)
	h.HandleMessage(context.Background(), client, ClientMessage{Action: "leave", Room: "session-1"})
	if evt := receive(t, client); evt.Type != EventLeft {
		t.Fatalf("expected left, got %s", evt.Type)
	}

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "shout", Room: "session-1"})
	if evt := receive(t, client); evt.Type != EventError {
		t.Fatalf("expected error for unknown action, got %s", evt.Type)
	}

	h.HandleMessage(context.Background(), client, ClientMessage{Action: "join"})
	if evt := receive(t, client); evt.Type != EventError {
		t.Fatalf("expected error for missing room, got %s", evt.Type)
	}
}

func TestHandleConnect_RequiresIdentity(t *testing.T) {
	h, _ := newTestHandler(&fakeRooms{})
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())

	err := h.HandleConnect(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandleConnect_EndToEnd(t *testing.T) {
	rooms := &fakeRooms{allowed: map[string]bool{"session-1": true}}
	h, hub := newTestHandler(rooms)
	userID := uuid.New()

	e := echo.New()
	withIdentity := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), auth.Identity{UserID: userID, Role: auth.RolePatient})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	e.GET("/ws", h.HandleConnect, withIdentity)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Action: "join", Room: "session-1"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var joined Event
	if err := conn.ReadJSON(&joined); err != nil {
		t.Fatalf("read joined: %v", err)
	}
	if joined.Type != EventJoined || joined.Room != "session-1" {
		t.Fatalf("unexpected event %+v", joined)
	}

	hub.PushToUser(userID, NewEvent(EventNotification, "", map[string]string{"title": "hello"}))
	var pushed Event
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if pushed.Type != EventNotification {
		t.Fatalf("expected notification, got %s", pushed.Type)
	}
}
