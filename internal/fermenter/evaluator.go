package fermenter

import "math"

// Readings outside this window are treated as a sensor fault.
const (
	MinPlausibleTemp = 0.0
	MaxPlausibleTemp = 100.0
)

// FaultTemperature is reported in place of a reading the sensor could not
// deliver. It is the value a disconnected DS18B20 returns in °F.
const FaultTemperature = -196.6

// Evaluator turns a reading and the current settings into a decision.
type Evaluator func(current float64, cfg Snapshot, previous State) State

// Evaluate is the default decision table. Band edges are exclusive, so a
// reading exactly on setTemp±tempRange is Correct. The previous state has no
// influence: inside the band the result is always Correct.
func Evaluate(current float64, cfg Snapshot, previous State) State {
	switch {
	case implausible(current):
		return StateError
	case current > cfg.SetTemp+cfg.TempRange:
		return StateCooler
	case current < cfg.SetTemp-cfg.TempRange:
		return StateHeater
	default:
		return StateCorrect
	}
}

// EvaluateLatching keeps heating or cooling until the reading crosses back
// over the setpoint instead of stopping at the band edge.
func EvaluateLatching(current float64, cfg Snapshot, previous State) State {
	switch {
	case implausible(current):
		return StateError
	case previous == StateCooler && current >= cfg.SetTemp:
		return StateCooler
	case previous == StateHeater && current <= cfg.SetTemp:
		return StateHeater
	default:
		return Evaluate(current, cfg, previous)
	}
}

func implausible(t float64) bool {
	return math.IsNaN(t) || t > MaxPlausibleTemp || t < MinPlausibleTemp
}
