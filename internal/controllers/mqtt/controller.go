package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/controllers/wire"
	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
	"github.com/Agrid-Dev/thermobrew/internal/ports"
	"github.com/Agrid-Dev/thermobrew/internal/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration
	// WriteTimeout bounds how long a single publish may wait on the
	// connection writer.
	WriteTimeout time.Duration

	Username string
	Password string
}

// Controller mirrors the device over MQTT: telemetry frames go to
// <base>/telemetry, the config snapshot to <base>/config whenever it
// changes, and patches are accepted on <base>/config/set and
// <base>/set/<field>.
type Controller struct {
	svc ports.ConfigService
	cfg Config
	log *logger.Logger

	client mqtt.Client
	frames chan []byte

	mu   sync.Mutex
	last fermenter.Snapshot
	sent bool
}

func New(svc ports.ConfigService, cfg Config, log *logger.Logger) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "thermobrew/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "thermobrew-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{
		svc:    svc,
		cfg:    cfg,
		log:    log,
		frames: make(chan []byte, 1),
	}
	c.client = mqtt.NewClient(c.clientOptions())
	return c, nil
}

func (c *Controller) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetWriteTimeout(c.cfg.WriteTimeout)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		filters := map[string]byte{
			c.topic("config/set"): c.cfg.QoS,
			c.topic("set/+"):      c.cfg.QoS,
		}
		token := cl.SubscribeMultiple(filters, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warnw("mqtt subscribe failed", "err", err)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.log.Warnw("mqtt connection lost", "err", err)
	}
	return opts
}

func (c *Controller) Run(ctx context.Context) error {
	tok := c.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.log.Infow("mqtt connected", "broker", c.cfg.BrokerURL, "base", c.cfg.BaseTopic)

	// Publish loop: publish snapshot on interval, and only when changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	// publish immediately once
	c.publishSnapshotIfChanged()

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishSnapshotIfChanged()

		case b := <-c.frames:
			c.sendFrame(b)
		}
	}
}

// Publish queues r as a telemetry frame for Run to send. A frame still
// waiting is replaced by the newer one, so the caller never waits on the
// broker.
func (c *Controller) Publish(r fermenter.Reading) {
	if !c.client.IsConnectionOpen() {
		return
	}
	b, err := telemetry.NewFrame(r).Marshal()
	if err != nil {
		c.log.Warnw("encode frame failed", "err", err)
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

func (c *Controller) sendFrame(b []byte) {
	c.client.Publish(c.topic("telemetry"), c.cfg.QoS, false, b)
}

func (c *Controller) publishSnapshotIfChanged() {
	cur := c.svc.Get()
	c.mu.Lock()
	changed := !c.sent || cur != c.last
	c.mu.Unlock()
	if changed {
		c.publishSnapshot(cur)
	}
}

func (c *Controller) publishSnapshot(s fermenter.Snapshot) {
	b, _ := json.Marshal(wire.ToDTO(s))
	c.client.Publish(c.topic("config"), c.cfg.QoS, c.cfg.RetainSnapshot, b)

	c.mu.Lock()
	c.last = s
	c.sent = true
	c.mu.Unlock()
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	t := msg.Topic()
	payload := msg.Payload()

	var (
		p   fermenter.Patch
		err error
	)
	switch {
	case t == c.topic("config/set"):
		p, err = wire.DecodePatch(payload)

	case strings.HasPrefix(t, c.topic("set/")):
		// topic format: <base>/set/<field>
		p, err = fieldPatch(strings.TrimPrefix(t, c.topic("set/")), payload)

	default:
		return
	}
	if err != nil {
		c.log.Warnw("mqtt: ignoring update", "topic", t, "err", err)
		return
	}

	c.publishSnapshot(c.svc.Apply(p))
}

var errUnknownField = errors.New("unknown field")

func fieldPatch(field string, payload []byte) (fermenter.Patch, error) {
	var p fermenter.Patch
	switch field {
	case "running":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return p, err
		}
		p.Running = &v

	case "topic":
		v, err := decodeValueStrict[string](payload)
		if err != nil {
			return p, err
		}
		p.Topic = &v

	case "setTemp":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return p, err
		}
		p.SetTemp = &v

	case "tempRange":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return p, err
		}
		p.TempRange = &v

	case "dataInterval":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return p, err
		}
		d := wire.Millis(v)
		if d == nil {
			return p, errors.New("dataInterval out of range")
		}
		p.DataInterval = d

	default:
		return p, fmt.Errorf("%w %q", errUnknownField, field)
	}
	return p, nil
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
