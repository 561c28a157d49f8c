package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
	"github.com/gorilla/websocket"
)

var ErrHeartbeatTimeout = errors.New("telemetry: heartbeat timed out")

const writeWait = 2 * time.Second

type Config struct {
	// Identity
	DeviceID string

	// Server base, e.g. ws://host:8765
	ServerURL string

	// Liveness
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HeartbeatMisses   int

	Handler EventHandler
	Logger  *logger.Logger
}

// Channel keeps one websocket open to the server for the current topic and
// pushes telemetry frames over it. Publish never blocks and frames are
// dropped while the channel is down.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer

	frames    chan []byte
	topics    chan string
	connected atomic.Bool
}

func NewChannel(cfg Config) (*Channel, error) {
	// ---- defaults ----

	if cfg.DeviceID == "" {
		return nil, errors.New("telemetry: DeviceID is required")
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("telemetry: ServerURL is required")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("telemetry: server url scheme must be ws or wss, got %q", u.Scheme)
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 3 * time.Second
	}
	if cfg.HeartbeatMisses <= 0 {
		cfg.HeartbeatMisses = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Handler == nil {
		cfg.Handler = LogHandler{Log: cfg.Logger}
	}

	return &Channel{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		frames: make(chan []byte, 1),
		topics: make(chan string, 1),
	}, nil
}

// URL is the channel address for topic.
func (c *Channel) URL(topic string) string {
	return strings.TrimRight(c.cfg.ServerURL, "/") +
		"/ws/topic/" + url.PathEscape(topic) +
		"/asset/" + url.PathEscape(c.cfg.DeviceID)
}

func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Publish queues a frame for r. A frame still waiting to be sent is
// replaced by the newer one.
func (c *Channel) Publish(r fermenter.Reading) {
	if !c.connected.Load() {
		return
	}
	b, err := NewFrame(r).Marshal()
	if err != nil {
		c.cfg.Logger.Warnw("encode frame failed", "err", err)
		return
	}
	for {
		select {
		case c.frames <- b:
			return
		default:
		}
		select {
		case <-c.frames:
		default:
		}
	}
}

// OnTopicChanged makes Run drop the current connection and reconnect on
// topic. Only the latest pending topic is kept.
func (c *Channel) OnTopicChanged(topic string) {
	for {
		select {
		case c.topics <- topic:
			return
		default:
		}
		select {
		case <-c.topics:
		default:
		}
	}
}

// Run keeps the channel connected to topic until ctx is done. Failures are
// logged and retried every ReconnectInterval. With an empty topic it waits
// for one.
func (c *Channel) Run(ctx context.Context, topic string) error {
	for {
		if topic == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case topic = <-c.topics:
				continue
			}
		}

		next, changed, err := c.session(ctx, topic)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if changed {
			topic = next
			continue
		}
		c.cfg.Logger.Warnw("channel failed, retrying", "topic", topic, "in", c.cfg.ReconnectInterval, "err", err)

		t := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case topic = <-c.topics:
			t.Stop()
		case <-t.C:
		}
	}
}

// session runs one connection. It returns with changed set when a new
// topic arrived, otherwise with the error that ended it.
func (c *Channel) session(ctx context.Context, topic string) (next string, changed bool, err error) {
	u := c.URL(topic)
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	pongs := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		c.emit(Event{Kind: EventPong, URL: u})
		select {
		case pongs <- struct{}{}:
		default:
		}
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		c.emit(Event{Kind: EventPing, URL: u})
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			switch mt {
			case websocket.TextMessage:
				c.emit(Event{Kind: EventText, URL: u, Payload: data})
			case websocket.BinaryMessage:
				c.emit(Event{Kind: EventBinary, URL: u, Payload: data})
			}
		}
	}()

	// Drop anything queued for a previous connection.
	select {
	case <-c.frames:
	default:
	}
	c.connected.Store(true)
	c.emit(Event{Kind: EventConnected, URL: u})
	defer func() {
		c.connected.Store(false)
		c.emit(Event{Kind: EventDisconnected, URL: u, Err: err})
	}()

	ping := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ping.Stop()

	var pongTimeout <-chan time.Time
	misses := 0

	for {
		select {
		case <-ctx.Done():
			c.closeGracefully(conn)
			return "", false, ctx.Err()

		case next = <-c.topics:
			c.closeGracefully(conn)
			return next, true, nil

		case err = <-readErr:
			return "", false, fmt.Errorf("read: %w", err)

		case b := <-c.frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return "", false, fmt.Errorf("write frame: %w", err)
			}

		case <-ping.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return "", false, fmt.Errorf("write ping: %w", err)
			}
			if pongTimeout == nil {
				pongTimeout = time.After(c.cfg.HeartbeatTimeout)
			}

		case <-pongs:
			pongTimeout = nil
			misses = 0

		case <-pongTimeout:
			pongTimeout = nil
			misses++
			c.cfg.Logger.Debugw("heartbeat missed", "misses", misses)
			if misses >= c.cfg.HeartbeatMisses {
				err = ErrHeartbeatTimeout
				return "", false, err
			}
		}
	}
}

func (c *Channel) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Channel) emit(e Event) {
	c.cfg.Handler.HandleEvent(e)
}
