package websocket

import (
	"context"
	"encoding/json"
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
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "client-1",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicStudies) != 1 {
		t.Fatalf("expected 1 client on studies, got %d", hub.TopicCount(TopicStudies))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "client-2",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicStudies) != 0 {
		t.Fatalf("expected 0 clients on studies, got %d", hub.TopicCount(TopicStudies))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "client-3",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, open := <-client.Send:
		if open {
			t.Fatal("expected Send channel to be closed")
		}
	default:
		t.Fatal("expected closed channel to be readable")
	}

	// A second unregister must be a no-op, not a double close.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := newTestHub()

	subscriber := &Client{
		ID:     "sub-1",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	nonSubscriber := &Client{
		ID:     "non-sub-1",
		Topics: []string{"jobs"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	event := StudyEvent(EventStudyCreated, uuid.New(), "1.2.3", nil)
	hub.Broadcast(TopicStudies, event)

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != EventStudyCreated {
			t.Fatalf("expected %s, got %s", EventStudyCreated, received.Type)
		}
		if received.StudyUID != "1.2.3" {
			t.Fatalf("expected study UID 1.2.3, got %s", received.StudyUID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber should not have received event")
	default:
		// expected
	}
}

func TestHub_BroadcastAll(t *testing.T) {
	hub := newTestHub()

	c1 := &Client{ID: "all-1", Topics: []string{TopicStudies}, Send: make(chan []byte, 256), hub: hub}
	c2 := &Client{ID: "all-2", Topics: []string{"jobs"}, Send: make(chan []byte, 256), hub: hub}

	hub.Register(c1)
	hub.Register(c2)

	hub.BroadcastAll(Event{Type: "system.maintenance", Topic: "system", Timestamp: time.Now()})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if received.Type != "system.maintenance" {
				t.Fatalf("expected system.maintenance, got %s", received.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", c.ID)
		}
	}
}

func TestHub_BroadcastSkipsFullBuffers(t *testing.T) {
	hub := newTestHub()

	full := &Client{
		ID:     "slow-1",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 1),
		hub:    hub,
	}
	hub.Register(full)

	// Fill the buffer, then broadcast twice more. The broadcasts must not
	// block even though nothing drains the channel.
	done := make(chan struct{})
	go func() {
		hub.Broadcast(TopicStudies, StudyEvent(EventStudyCreated, uuid.New(), "1", nil))
		hub.Broadcast(TopicStudies, StudyEvent(EventStudyUpdated, uuid.New(), "2", nil))
		hub.Broadcast(TopicStudies, StudyEvent(EventStudyUpdated, uuid.New(), "3", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	// Must not panic or block with no subscribers.
	hub.Broadcast(TopicStudies, StudyEvent(EventStudyCreated, uuid.New(), "1.2.3", nil))
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &Client{
				ID:     uuid.New().String(),
				Topics: []string{TopicStudies},
				Send:   make(chan []byte, 16),
				hub:    hub,
			}
			hub.Register(client)
			hub.Broadcast(TopicStudies, StudyEvent(EventStudyUpdated, uuid.New(), "1.2.3", nil))
			hub.Unregister(client)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after churn, got %d", hub.ClientCount())
	}
}

func TestStudyEvent_Fields(t *testing.T) {
	id := uuid.New()
	evt := StudyEvent(EventStudyCreated, id, "1.2.840.99", map[string]string{"status": "new-study-received"})

	if evt.Topic != TopicStudies {
		t.Errorf("expected topic %s, got %s", TopicStudies, evt.Topic)
	}
	if evt.StudyID != id.String() {
		t.Errorf("expected study id %s, got %s", id, evt.StudyID)
	}
	if evt.StudyUID != "1.2.840.99" {
		t.Errorf("expected study UID, got %s", evt.StudyUID)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	var data map[string]string
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
	if data["status"] != "new-study-received" {
		t.Errorf("expected status in data, got %v", data)
	}
}

func TestHub_Publish(t *testing.T) {
	hub := newTestHub()

	subscriber := &Client{
		ID:     "pub-1",
		Topics: []string{TopicStudies},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(subscriber)

	var publisher EventPublisher = hub
	err := publisher.Publish(context.Background(), StudyEvent(EventStudyUpdated, uuid.New(), "1.2.3", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-subscriber.Send:
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published event")
	}
}

func TestHub_SubscribeAddsTopics(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "dynamic-sub-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Subscribe(client, []string{TopicStudies, "jobs"})

	if hub.TopicCount(TopicStudies) != 1 {
		t.Fatalf("expected 1 on studies, got %d", hub.TopicCount(TopicStudies))
	}
	if hub.TopicCount("jobs") != 1 {
		t.Fatalf("expected 1 on jobs, got %d", hub.TopicCount("jobs"))
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics on client, got %d", len(client.Topics))
	}
}

func TestHub_UnsubscribeRemovesTopics(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "dynamic-unsub-1",
		Topics: []string{TopicStudies, "jobs"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Unsubscribe(client, []string{TopicStudies})

	if hub.TopicCount(TopicStudies) != 0 {
		t.Fatalf("expected 0 on studies, got %d", hub.TopicCount(TopicStudies))
	}
	if hub.TopicCount("jobs") != 1 {
		t.Fatalf("expected 1 on jobs, got %d", hub.TopicCount("jobs"))
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic remaining, got %d", len(client.Topics))
	}
}

func TestClientMessage_ProcessSubscribe(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "process-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	raw := `{"action":"subscribe","topics":["studies"]}`
	var msg ClientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	hub.ProcessMessage(client, msg)

	if hub.TopicCount(TopicStudies) != 1 {
		t.Fatalf("expected 1 subscriber on studies, got %d", hub.TopicCount(TopicStudies))
	}
}

func TestClientMessage_ProcessUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "process-2",
		Topics: []string{TopicStudies, "jobs"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	raw := `{"action":"unsubscribe","topics":["studies"]}`
	var msg ClientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	hub.ProcessMessage(client, msg)

	if hub.TopicCount(TopicStudies) != 0 {
		t.Fatalf("expected 0 on studies, got %d", hub.TopicCount(TopicStudies))
	}
	if hub.TopicCount("jobs") != 1 {
		t.Fatalf("expected 1 on jobs, got %d", hub.TopicCount("jobs"))
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := newTestHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)

	// gorilla/websocket upgrader will reject non-WS requests
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	// Convert http URL to ws URL
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	dialer := gorillawebsocket.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// Give the goroutine a moment to register
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() < 1 {
		t.Fatal("expected at least 1 client registered after connect")
	}

	// New connections are subscribed to the studies topic by default.
	if hub.TopicCount(TopicStudies) != 1 {
		t.Fatalf("expected default studies subscription, got %d", hub.TopicCount(TopicStudies))
	}

	studyID := uuid.New()
	hub.Broadcast(TopicStudies, StudyEvent(EventStudyCreated, studyID, "1.2.840.99", nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != EventStudyCreated {
		t.Fatalf("expected %s, got %s", EventStudyCreated, received.Type)
	}
	if received.StudyID != studyID.String() {
		t.Fatalf("expected StudyID %s, got %s", studyID, received.StudyID)
	}
}
