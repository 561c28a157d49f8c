package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/gorilla/websocket"
)

// wsServer is a test endpoint that records each connection path and every
// text message it receives.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	paths    chan string
	messages chan []byte

	// silent servers swallow pings without answering.
	silent bool
	// onConnect runs right after the upgrade.
	onConnect func(*websocket.Conn)
}

func newWSServer(t *testing.T, silent bool, onConnect func(*websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{
		paths:     make(chan string, 16),
		messages:  make(chan []byte, 16),
		silent:    silent,
		onConnect: onConnect,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.paths <- r.URL.Path

	if s.onConnect != nil {
		s.onConnect(conn)
	}
	if s.silent {
		conn.SetPingHandler(func(string) error { return nil })
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.messages <- data
	}
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) find(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func newTestChannel(t *testing.T, serverURL string, handler EventHandler) *Channel {
	t.Helper()
	c, err := NewChannel(Config{
		DeviceID:          "dev-1",
		ServerURL:         serverURL,
		ReconnectInterval: 20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Handler:           handler,
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return c
}

func runChannel(t *testing.T, c *Channel, topic string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, topic) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func waitPath(t *testing.T, paths <-chan string) string {
	t.Helper()
	select {
	case p := <-paths:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection")
		return ""
	}
}

func waitConnected(t *testing.T, c *Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("channel never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewChannelValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing device", Config{ServerURL: "ws://localhost:8765"}},
		{"missing server", Config{DeviceID: "d"}},
		{"http scheme", Config{DeviceID: "d", ServerURL: "http://localhost:8765"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChannel(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewChannelDefaults(t *testing.T) {
	c, err := NewChannel(Config{DeviceID: "d", ServerURL: "ws://localhost:8765"})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if c.cfg.ReconnectInterval != 5*time.Second ||
		c.cfg.HeartbeatInterval != 15*time.Second ||
		c.cfg.HeartbeatTimeout != 3*time.Second ||
		c.cfg.HeartbeatMisses != 2 {
		t.Fatalf("unexpected defaults %+v", c.cfg)
	}
}

func TestURL(t *testing.T) {
	c, err := NewChannel(Config{DeviceID: "dev 1", ServerURL: "ws://192.168.0.13:8765/"})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	got := c.URL("ipa/batch 7")
	want := "ws://192.168.0.13:8765/ws/topic/ipa%2Fbatch%207/asset/dev%201"
	if got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}
}

func TestPublishDeliversFrame(t *testing.T) {
	s := newWSServer(t, false, nil)
	c := newTestChannel(t, s.url(), nil)
	runChannel(t, c, "ipa")

	if p := waitPath(t, s.paths); p != "/ws/topic/ipa/asset/dev-1" {
		t.Fatalf("unexpected path %q", p)
	}
	waitConnected(t, c)

	c.Publish(fermenter.Reading{State: fermenter.StateCooler, CurrentTemp: 62.5, SetTemp: 60, TempRange: 1})

	select {
	case msg := <-s.messages:
		var f struct {
			Fields []struct {
				Value json.Number `json:"value"`
				Type  string      `json:"type"`
				Key   string      `json:"key"`
			} `json:"fields"`
		}
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		keys := []string{"state", "currentTemp", "setTemp", "tempRange"}
		if len(f.Fields) != len(keys) {
			t.Fatalf("expected %d fields, got %d", len(keys), len(f.Fields))
		}
		for i, k := range keys {
			if f.Fields[i].Key != k {
				t.Fatalf("field %d key=%q, want %q", i, f.Fields[i].Key, k)
			}
		}
		if f.Fields[0].Value.String() != "1" || f.Fields[1].Value.String() != "62.5" {
			t.Fatalf("unexpected values %+v", f.Fields)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestPublishWhileDisconnectedIsDropped(t *testing.T) {
	c := newTestChannel(t, "ws://127.0.0.1:1", nil)
	c.Publish(fermenter.Reading{State: fermenter.StateHeater})
	if len(c.frames) != 0 {
		t.Fatal("expected frame to be dropped while disconnected")
	}
}

func TestEmptyTopicWaitsForTopic(t *testing.T) {
	s := newWSServer(t, false, nil)
	c := newTestChannel(t, s.url(), nil)
	runChannel(t, c, "")

	select {
	case p := <-s.paths:
		t.Fatalf("unexpected connection to %q without a topic", p)
	case <-time.After(100 * time.Millisecond):
	}

	c.OnTopicChanged("lager")
	if p := waitPath(t, s.paths); p != "/ws/topic/lager/asset/dev-1" {
		t.Fatalf("unexpected path %q", p)
	}
}

func TestTopicChangeReconnectsOnce(t *testing.T) {
	s := newWSServer(t, false, nil)
	c := newTestChannel(t, s.url(), nil)
	runChannel(t, c, "a")

	if p := waitPath(t, s.paths); p != "/ws/topic/a/asset/dev-1" {
		t.Fatalf("unexpected first path %q", p)
	}
	waitConnected(t, c)

	c.OnTopicChanged("b")
	if p := waitPath(t, s.paths); p != "/ws/topic/b/asset/dev-1" {
		t.Fatalf("unexpected second path %q", p)
	}

	select {
	case p := <-s.paths:
		t.Fatalf("unexpected extra connection to %q", p)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	first := true
	var mu sync.Mutex
	s := newWSServer(t, false, func(conn *websocket.Conn) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			conn.Close()
		}
	})
	c := newTestChannel(t, s.url(), nil)
	runChannel(t, c, "a")

	waitPath(t, s.paths)
	if p := waitPath(t, s.paths); p != "/ws/topic/a/asset/dev-1" {
		t.Fatalf("unexpected reconnect path %q", p)
	}
}

func TestHeartbeatMissesDisconnect(t *testing.T) {
	s := newWSServer(t, true, nil)
	events := &eventLog{}
	c, err := NewChannel(Config{
		DeviceID:          "dev-1",
		ServerURL:         s.url(),
		ReconnectInterval: 20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  10 * time.Millisecond,
		HeartbeatMisses:   2,
		Handler:           events,
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	runChannel(t, c, "a")

	waitPath(t, s.paths)
	waitPath(t, s.paths)

	e, ok := events.find(EventDisconnected)
	if !ok {
		t.Fatal("expected a disconnected event")
	}
	if !errors.Is(e.Err, ErrHeartbeatTimeout) {
		t.Fatalf("expected ErrHeartbeatTimeout, got %v", e.Err)
	}
}

func TestHeartbeatAnswered(t *testing.T) {
	s := newWSServer(t, false, nil)
	events := &eventLog{}
	c, err := NewChannel(Config{
		DeviceID:          "dev-1",
		ServerURL:         s.url(),
		ReconnectInterval: 20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  500 * time.Millisecond,
		HeartbeatMisses:   1,
		Handler:           events,
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	runChannel(t, c, "a")
	waitPath(t, s.paths)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := events.find(EventPong); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no pong received")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Connected() {
		t.Fatal("expected channel to stay connected")
	}
}

func TestInboundMessagesDispatched(t *testing.T) {
	s := newWSServer(t, false, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
	})
	events := &eventLog{}
	c := newTestChannel(t, s.url(), events)
	runChannel(t, c, "a")
	waitPath(t, s.paths)

	deadline := time.Now().Add(2 * time.Second)
	for {
		text, okText := events.find(EventText)
		bin, okBin := events.find(EventBinary)
		if okText && okBin {
			if string(text.Payload) != "hello" {
				t.Fatalf("text payload %q", text.Payload)
			}
			if len(bin.Payload) != 2 || bin.Payload[0] != 0x01 {
				t.Fatalf("binary payload %v", bin.Payload)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbound messages not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := events.find(EventConnected); !ok {
		t.Fatal("expected a connected event")
	}
}
