package fermenter

import (
	"context"
	"sync"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/logger"
)

// Sensor delivers the vessel temperature in °F. A read may block for about a
// second on real hardware.
type Sensor interface {
	ReadTemperature() (float64, error)
}

// Actuator drives the heater and cooler lines for a state.
type Actuator interface {
	Apply(State)
}

// Reading is the outcome of one tick.
type Reading struct {
	State       State
	CurrentTemp float64
	SetTemp     float64
	TempRange   float64
	At          time.Time
}

// Publisher receives one reading per tick. Implementations must not block.
type Publisher interface {
	Publish(Reading)
}

type PublisherFunc func(Reading)

func (f PublisherFunc) Publish(r Reading) { f(r) }

// ConfigReader is the read side of Store.
type ConfigReader interface {
	Get() Snapshot
}

// Status describes the loop as seen from outside.
type Status struct {
	Ticking     bool
	State       State
	CurrentTemp float64
	LastTick    time.Time
	Ticks       uint64
}

type LoopOptions struct {
	// Poll is the scheduler pass period. The data interval is checked on
	// every pass.
	Poll      time.Duration
	Evaluator Evaluator
	Now       func() time.Time
	Logger    *logger.Logger
}

// Loop runs sensor read, evaluation, actuation and publication every
// data interval while the device is running.
type Loop struct {
	cfg      ConfigReader
	sensor   Sensor
	actuator Actuator
	pub      Publisher
	eval     Evaluator
	now      func() time.Time
	poll     time.Duration
	log      *logger.Logger

	lastTick time.Time
	state    State

	mu     sync.RWMutex
	status Status
}

func NewLoop(cfg ConfigReader, sensor Sensor, actuator Actuator, pub Publisher, opts LoopOptions) *Loop {
	if opts.Poll <= 0 {
		opts.Poll = 50 * time.Millisecond
	}
	if opts.Evaluator == nil {
		opts.Evaluator = Evaluate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	l := &Loop{
		cfg:      cfg,
		sensor:   sensor,
		actuator: actuator,
		pub:      pub,
		eval:     opts.Evaluator,
		now:      opts.Now,
		poll:     opts.Poll,
		log:      opts.Logger,
		state:    StateCorrect,
	}
	l.lastTick = l.now()
	l.status.State = StateCorrect
	return l
}

// Step is one scheduler pass. It reports whether a tick fired.
func (l *Loop) Step() bool {
	cfg := l.cfg.Get()
	l.setTicking(cfg.Running)
	if !cfg.Running {
		return false
	}

	now := l.now()
	if now.Sub(l.lastTick) < cfg.DataInterval {
		return false
	}
	l.tick(now, cfg)
	return true
}

func (l *Loop) tick(now time.Time, cfg Snapshot) {
	temp, err := l.sensor.ReadTemperature()
	if err != nil {
		l.log.Warnw("sensor read failed", "err", err)
		temp = FaultTemperature
	}

	next := l.eval(temp, cfg, l.state)
	if next != l.state {
		l.log.Infow("state changed", "from", l.state.String(), "to", next.String(), "temp", temp)
	}
	l.state = next
	l.actuator.Apply(next)

	l.pub.Publish(Reading{
		State:       next,
		CurrentTemp: temp,
		SetTemp:     cfg.SetTemp,
		TempRange:   cfg.TempRange,
		At:          now,
	})
	l.lastTick = now

	l.mu.Lock()
	l.status.State = next
	l.status.CurrentTemp = temp
	l.status.LastTick = now
	l.status.Ticks++
	l.mu.Unlock()
}

func (l *Loop) setTicking(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.Ticking != on {
		l.log.Infow("control loop", "ticking", on)
	}
	l.status.Ticking = on
}

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Run calls Step every poll period until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}
