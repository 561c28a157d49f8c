package telemetry

import (
	"encoding/hex"

	"github.com/Agrid-Dev/thermobrew/internal/logger"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventText
	EventBinary
	EventPing
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventText:
		return "text"
	case EventBinary:
		return "binary"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Event is something that happened on the channel. Payload is set for
// text and binary messages, Err for a disconnect caused by a failure.
type Event struct {
	Kind    EventKind
	URL     string
	Payload []byte
	Err     error
}

// EventHandler receives channel events. It is called from the channel's
// goroutines and must not block.
type EventHandler interface {
	HandleEvent(Event)
}

type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(e Event) { f(e) }

// LogHandler logs every event. Inbound messages do not change device state.
type LogHandler struct {
	Log *logger.Logger
}

func (h LogHandler) HandleEvent(e Event) {
	log := h.Log
	if log == nil {
		log = logger.Nop()
	}
	switch e.Kind {
	case EventConnected:
		log.Infow("channel connected", "url", e.URL)
	case EventDisconnected:
		if e.Err != nil {
			log.Warnw("channel disconnected", "url", e.URL, "err", e.Err)
			return
		}
		log.Infow("channel disconnected", "url", e.URL)
	case EventText:
		log.Infow("channel text", "payload", string(e.Payload))
	case EventBinary:
		log.Infow("channel binary", "len", len(e.Payload), "dump", hex.Dump(e.Payload))
	case EventPing, EventPong:
		log.Debugw("channel heartbeat", "event", e.Kind.String())
	}
}
