//go:build linux

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOLines drives the outputs through the Linux GPIO character device.
type GPIOLines struct {
	heater *gpiocdev.Line
	cooler *gpiocdev.Line
}

// OpenGPIO requests both pins as outputs, initially inactive. With
// activeLow the physical level is inverted for relay boards that switch
// on low.
func OpenGPIO(chip string, heaterPin, coolerPin int, activeLow bool) (*GPIOLines, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	heater, err := gpiocdev.RequestLine(chip, heaterPin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request heater pin %d: %w", heaterPin, err)
	}
	cooler, err := gpiocdev.RequestLine(chip, coolerPin, opts...)
	if err != nil {
		heater.Close()
		return nil, fmt.Errorf("request cooler pin %d: %w", coolerPin, err)
	}
	return &GPIOLines{heater: heater, cooler: cooler}, nil
}

func (g *GPIOLines) Set(heater, cooler bool) error {
	return setExclusive(lineSetter(g.heater, "heater"), lineSetter(g.cooler, "cooler"), heater, cooler)
}

func lineSetter(l *gpiocdev.Line, name string) func(bool) error {
	return func(on bool) error {
		v := 0
		if on {
			v = 1
		}
		if err := l.SetValue(v); err != nil {
			return fmt.Errorf("set %s line: %w", name, err)
		}
		return nil
	}
}

// Close drives both lines inactive and releases them.
func (g *GPIOLines) Close() error {
	var errs []error
	for name, l := range map[string]*gpiocdev.Line{"heater": g.heater, "cooler": g.cooler} {
		if l == nil {
			continue
		}
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset %s line: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s line: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
