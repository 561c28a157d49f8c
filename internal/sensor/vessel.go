package sensor

import (
	"sync"
	"time"
)

// OutputSource reports the current heater and cooler levels.
type OutputSource interface {
	Outputs() (heater, cooler bool)
}

type VesselParams struct {
	Initial     float64 // °F at start
	Ambient     float64 // °F around the vessel
	Coefficient float64 // >= 0, heat exchange with ambient per second. 0 for none.
	HeaterRate  float64 // °F per second while the heater is on
	CoolerRate  float64 // °F per second while the cooler is on
}

func (p *VesselParams) Validate() error {
	if p.Coefficient < 0 {
		return ErrNegativeCoefficient
	}
	return nil
}

// Vessel simulates a fermenter exchanging heat with its surroundings and
// driven by the actuator outputs. It integrates between reads.
type Vessel struct {
	params  VesselParams
	outputs OutputSource
	now     func() time.Time

	mu   sync.Mutex
	temp float64
	last time.Time
}

// NewVessel builds a simulator. If now is nil, time.Now is used.
func NewVessel(params VesselParams, outputs OutputSource, now func() time.Time) (*Vessel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Vessel{
		params:  params,
		outputs: outputs,
		now:     now,
		temp:    params.Initial,
		last:    now(),
	}, nil
}

// DeltaTemperature is the change over dt at temp with the given outputs.
func (v *Vessel) DeltaTemperature(temp float64, heater, cooler bool, dt time.Duration) float64 {
	s := dt.Seconds()
	delta := v.params.Coefficient * (v.params.Ambient - temp) * s
	if heater {
		delta += v.params.HeaterRate * s
	}
	if cooler {
		delta -= v.params.CoolerRate * s
	}
	return delta
}

func (v *Vessel) ReadTemperature() (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	dt := now.Sub(v.last)
	if dt > 0 {
		var heater, cooler bool
		if v.outputs != nil {
			heater, cooler = v.outputs.Outputs()
		}
		v.temp += v.DeltaTemperature(v.temp, heater, cooler, dt)
		v.last = now
	}
	return v.temp, nil
}
