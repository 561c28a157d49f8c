package fermenter

import (
	"sync"
	"time"
)

// Guards applied to partial updates. A value that does not pass its guard is
// ignored and the current one is kept.
const (
	MinSetTemp      = 1.0
	MinTempRange    = 0.1
	MinDataInterval = time.Millisecond
)

// Snapshot is the full set of externally visible settings at one instant.
type Snapshot struct {
	Running      bool
	Topic        string
	SetTemp      float64 // °F
	TempRange    float64 // °F, half-width of the dead band
	HeaterPin    int
	CoolerPin    int
	DataInterval time.Duration
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		Running:      false,
		Topic:        "",
		SetTemp:      60.0,
		TempRange:    1.0,
		HeaterPin:    12,
		CoolerPin:    13,
		DataInterval: 1000 * time.Millisecond,
	}
}

func (s Snapshot) Validate() error {
	if s.TempRange <= 0 {
		return ErrInvalidTempRange
	}
	if s.DataInterval <= 0 {
		return ErrInvalidDataInterval
	}
	if s.HeaterPin == s.CoolerPin {
		return ErrPinConflict
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched. Pins are not
// part of it: they are fixed at startup.
type Patch struct {
	Running      *bool
	Topic        *string
	SetTemp      *float64
	TempRange    *float64
	DataInterval *time.Duration
}

// TopicListener is called after the topic has changed.
type TopicListener func(topic string)

// Store owns the live settings of the device.
type Store struct {
	mu        sync.RWMutex
	s         Snapshot
	listeners []TopicListener
}

func NewStore(initial Snapshot) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{s: initial}, nil
}

func (st *Store) Get() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// OnTopicChange registers fn to be called whenever Apply changes the topic.
func (st *Store) OnTopicChange(fn TopicListener) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.listeners = append(st.listeners, fn)
}

// Apply merges p into the current settings field by field and returns the
// resulting snapshot. Rejected fields are dropped silently.
func (st *Store) Apply(p Patch) Snapshot {
	st.mu.Lock()
	prevTopic := st.s.Topic

	if p.Running != nil {
		st.s.Running = *p.Running
	}
	if p.SetTemp != nil && *p.SetTemp > MinSetTemp {
		st.s.SetTemp = *p.SetTemp
	}
	if p.TempRange != nil && *p.TempRange > MinTempRange {
		st.s.TempRange = *p.TempRange
	}
	// The guard sees the raw value; whole milliseconds are stored.
	if p.DataInterval != nil && *p.DataInterval > MinDataInterval {
		st.s.DataInterval = p.DataInterval.Truncate(time.Millisecond)
	}
	if p.Topic != nil && *p.Topic != "" && *p.Topic != st.s.Topic {
		st.s.Topic = *p.Topic
	}

	out := st.s
	var notify []TopicListener
	if out.Topic != prevTopic {
		notify = append(notify, st.listeners...)
	}
	st.mu.Unlock()

	// Listeners run outside the lock so they may read the store.
	for _, fn := range notify {
		fn(out.Topic)
	}
	return out
}
