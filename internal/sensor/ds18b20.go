package sensor

import (
	"fmt"
	"sync"

	"github.com/yryz/ds18b20"
)

// DS18B20 reads a 1-Wire probe through the w1 sysfs interface. A read takes
// about a second while the probe converts.
type DS18B20 struct {
	mu      sync.Mutex
	address string
}

// NewDS18B20 binds to the probe at address. With an empty address the first
// probe on the bus is used, resolved on the first read.
func NewDS18B20(address string) *DS18B20 {
	return &DS18B20{address: address}
}

func (d *DS18B20) resolve() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.address != "" {
		return d.address, nil
	}
	probes, err := ds18b20.Sensors()
	if err != nil {
		return "", fmt.Errorf("%w: list probes: %v", ErrSensorFault, err)
	}
	if len(probes) == 0 {
		return "", ErrNoProbe
	}
	d.address = probes[0]
	return d.address, nil
}

func (d *DS18B20) ReadTemperature() (float64, error) {
	addr, err := d.resolve()
	if err != nil {
		return 0, err
	}
	c, err := ds18b20.Temperature(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: probe %s: %v", ErrSensorFault, addr, err)
	}
	return celsiusToFahrenheit(c), nil
}

// Address returns the bound probe address, empty until resolved.
func (d *DS18B20) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}
