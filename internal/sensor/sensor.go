// Package sensor provides temperature sources for the control loop. All
// readings are in °F.
package sensor

import "errors"

var (
	ErrSensorFault         = errors.New("sensor: read failed")
	ErrNoProbe             = errors.New("sensor: no ds18b20 probe found")
	ErrNegativeCoefficient = errors.New("sensor: heat loss coefficient must be >= 0")
	ErrNoSamples           = errors.New("sensor: no samples configured")
)

func celsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
