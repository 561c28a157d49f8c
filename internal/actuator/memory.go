package actuator

import "sync"

// Level is one recorded pair of line levels.
type Level struct {
	Heater bool
	Cooler bool
}

// MemoryLines keeps line levels in memory. It backs the "none" driver and
// the tests.
type MemoryLines struct {
	mu sync.Mutex

	// History holds every level pair written, in order.
	History []Level
	// SetError, if set, is returned by Set and nothing is recorded.
	SetError error
	Closed   bool

	// overlap is set if both lines were ever active at the same time.
	overlap bool
	cur     Level
}

func NewMemoryLines() *MemoryLines {
	return &MemoryLines{}
}

func (m *MemoryLines) Set(heater, cooler bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	return setExclusive(m.setHeater, m.setCooler, heater, cooler)
}

func (m *MemoryLines) setHeater(on bool) error {
	m.cur.Heater = on
	m.record()
	return nil
}

func (m *MemoryLines) setCooler(on bool) error {
	m.cur.Cooler = on
	m.record()
	return nil
}

func (m *MemoryLines) record() {
	if m.cur.Heater && m.cur.Cooler {
		m.overlap = true
	}
	m.History = append(m.History, m.cur)
}

func (m *MemoryLines) Current() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Overlapped reports whether both lines were ever active together.
func (m *MemoryLines) Overlapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlap
}

func (m *MemoryLines) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
