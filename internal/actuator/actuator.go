// Package actuator drives the heater and cooler outputs.
// Hardware backends live behind the Lines interface so the driver can be
// exercised without GPIO access.
package actuator

import (
	"errors"
	"sync"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
)

var (
	ErrBothActive  = errors.New("actuator: heater and cooler cannot be active together")
	ErrUnsupported = errors.New("actuator: gpio not supported on this platform")
)

// Lines sets the logical level of the two output lines.
type Lines interface {
	Set(heater, cooler bool) error
	Close() error
}

// Driver applies control states to a pair of lines.
type Driver struct {
	lines Lines
	log   *logger.Logger

	mu     sync.RWMutex
	heater bool
	cooler bool
}

func New(lines Lines, log *logger.Logger) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{lines: lines, log: log}
}

// Apply sets the outputs for s. On a write failure it falls back to
// switching both lines off.
func (d *Driver) Apply(s fermenter.State) {
	heater, cooler := s.Outputs()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lines.Set(heater, cooler); err != nil {
		d.log.Errorw("set outputs failed", "state", s.String(), "err", err)
		if err := d.lines.Set(false, false); err != nil {
			d.log.Errorw("switch outputs off failed", "err", err)
		}
		d.heater, d.cooler = false, false
		return
	}
	d.heater, d.cooler = heater, cooler
}

// Outputs returns the last levels written.
func (d *Driver) Outputs() (heater, cooler bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.heater, d.cooler
}

// Close switches both outputs off and releases the lines.
func (d *Driver) Close() error {
	d.Apply(fermenter.StateCorrect)
	return d.lines.Close()
}

// setExclusive releases the line being switched off before driving the other
// one, so the two are never active together even between writes.
func setExclusive(setHeater, setCooler func(bool) error, heater, cooler bool) error {
	if heater && cooler {
		return ErrBothActive
	}
	if !heater {
		if err := setHeater(false); err != nil {
			return err
		}
	}
	if !cooler {
		if err := setCooler(false); err != nil {
			return err
		}
	}
	if heater {
		return setHeater(true)
	}
	if cooler {
		return setCooler(true)
	}
	return nil
}
