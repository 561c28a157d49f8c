//go:build linux

package actuator

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPIOLines drives the outputs through memory-mapped GPIO on a Raspberry Pi.
type RPIOLines struct {
	heater    rpio.Pin
	cooler    rpio.Pin
	activeLow bool
}

func OpenRPIO(heaterPin, coolerPin int, activeLow bool) (*RPIOLines, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	r := &RPIOLines{
		heater:    rpio.Pin(heaterPin),
		cooler:    rpio.Pin(coolerPin),
		activeLow: activeLow,
	}
	r.heater.Output()
	r.cooler.Output()
	r.write(r.heater, false)
	r.write(r.cooler, false)
	return r, nil
}

// write sets the physical level, inverted for active-low boards.
func (r *RPIOLines) write(p rpio.Pin, on bool) {
	if on != r.activeLow {
		p.High()
	} else {
		p.Low()
	}
}

func (r *RPIOLines) Set(heater, cooler bool) error {
	return setExclusive(
		func(on bool) error { r.write(r.heater, on); return nil },
		func(on bool) error { r.write(r.cooler, on); return nil },
		heater, cooler)
}

func (r *RPIOLines) Close() error {
	r.write(r.heater, false)
	r.write(r.cooler, false)
	return rpio.Close()
}
