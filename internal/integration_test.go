package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Agrid-Dev/thermobrew/internal/actuator"
	httpctrl "github.com/Agrid-Dev/thermobrew/internal/controllers/http"
	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/sensor"
	"github.com/Agrid-Dev/thermobrew/internal/telemetry"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type wireFrame struct {
	Fields []struct {
		Value json.Number `json:"value"`
		Type  string      `json:"type"`
		Key   string      `json:"key"`
	} `json:"fields"`
}

// TestIntegrationFullFlow drives the device from the HTTP config endpoint
// through the control loop to the actuator lines and the telemetry server.
func TestIntegrationFullFlow(t *testing.T) {
	// Telemetry server
	paths := make(chan string, 4)
	frames := make(chan []byte, 8)
	var upgrader websocket.Upgrader
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		paths <- r.URL.Path
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer ws.Close()

	// Device
	store, err := fermenter.NewStore(fermenter.DefaultSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	lines := actuator.NewMemoryLines()
	drv := actuator.New(lines, nil)
	probe := sensor.NewScripted(58.0)

	ch, err := telemetry.NewChannel(telemetry.Config{
		DeviceID:          "dev-1",
		ServerURL:         "ws" + strings.TrimPrefix(ws.URL, "http"),
		ReconnectInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	store.OnTopicChange(ch.OnTopicChanged)

	clk := &manualClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop := fermenter.NewLoop(store, probe, drv, telemetry.Fanout{ch}, fermenter.LoopOptions{Now: clk.Now})
	api := httpctrl.New(store, loop, ":0", "dev-1", nil).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx, store.Get().Topic)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Idle: nothing happens even after the interval elapses.
	clk.Advance(2 * time.Second)
	if loop.Step() {
		t.Fatal("expected no tick while not running")
	}
	if probe.Reads() != 0 || len(lines.History) != 0 {
		t.Fatalf("expected no sensor read or actuation while idle, reads=%d history=%v", probe.Reads(), lines.History)
	}

	// Start it and pick a topic over HTTP.
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(`{"running":true,"topic":"ipa"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /config: %d %s", rr.Code, rr.Body.String())
	}

	select {
	case p := <-paths:
		if p != "/ws/topic/ipa/asset/dev-1" {
			t.Fatalf("unexpected channel path %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not connect after topic change")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !ch.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("channel never reported connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// 58 °F with setTemp=60, tempRange=1 -> heater.
	clk.Advance(time.Second)
	if !loop.Step() {
		t.Fatal("expected a tick")
	}
	if cur := lines.Current(); !cur.Heater || cur.Cooler {
		t.Fatalf("expected heater only, got %+v", cur)
	}
	assertFrame(t, frames, "0", "58")

	// 62.5 °F -> cooler.
	probe.Set(62.5)
	clk.Advance(time.Second)
	if !loop.Step() {
		t.Fatal("expected a tick")
	}
	if cur := lines.Current(); cur.Heater || !cur.Cooler {
		t.Fatalf("expected cooler only, got %+v", cur)
	}
	assertFrame(t, frames, "1", "62.5")

	if lines.Overlapped() {
		t.Fatal("heater and cooler were active together")
	}

	// Status reflects the last tick.
	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st["state"] != "cooler" || st["ticks"] != 2.0 {
		t.Fatalf("unexpected status %v", st)
	}
}

func assertFrame(t *testing.T, frames <-chan []byte, state, temp string) {
	t.Helper()
	select {
	case b := <-frames:
		var f wireFrame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if len(f.Fields) != 4 || f.Fields[0].Key != "state" || f.Fields[1].Key != "currentTemp" {
			t.Fatalf("unexpected frame layout %s", b)
		}
		if f.Fields[0].Value.String() != state || f.Fields[1].Value.String() != temp {
			t.Fatalf("frame state=%s temp=%s, want %s/%s", f.Fields[0].Value, f.Fields[1].Value, state, temp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for telemetry frame")
	}
}
