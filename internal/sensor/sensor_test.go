package sensor

import (
	"errors"
	"math"
	"testing"
	"time"
)

const eps = 1e-9

type fixedOutputs struct{ heater, cooler bool }

func (f fixedOutputs) Outputs() (bool, bool) { return f.heater, f.cooler }

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCelsiusToFahrenheit(t *testing.T) {
	tests := []struct{ c, f float64 }{
		{0, 32},
		{100, 212},
		{-40, -40},
		{18.5, 65.3},
	}
	for _, tt := range tests {
		if got := celsiusToFahrenheit(tt.c); math.Abs(got-tt.f) > 1e-6 {
			t.Fatalf("celsiusToFahrenheit(%v) = %v, want %v", tt.c, got, tt.f)
		}
	}
}

func TestVesselValidate(t *testing.T) {
	_, err := NewVessel(VesselParams{Coefficient: -0.1}, nil, nil)
	if !errors.Is(err, ErrNegativeCoefficient) {
		t.Fatalf("expected ErrNegativeCoefficient, got %v", err)
	}
}

func TestVesselDrift(t *testing.T) {
	tests := []struct {
		name    string
		outputs fixedOutputs
		want    float64
	}{
		// 0.01 * (70 - 60) * 10s = +1
		{"ambient only", fixedOutputs{}, 61},
		// +1 from ambient, +0.05*10 from heater
		{"heater", fixedOutputs{heater: true}, 61.5},
		// +1 from ambient, -0.2*10 from cooler
		{"cooler", fixedOutputs{cooler: true}, 59},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &manualClock{t: time.Unix(0, 0)}
			v, err := NewVessel(VesselParams{
				Initial:     60,
				Ambient:     70,
				Coefficient: 0.01,
				HeaterRate:  0.05,
				CoolerRate:  0.2,
			}, tt.outputs, clk.Now)
			if err != nil {
				t.Fatalf("NewVessel: %v", err)
			}

			clk.Advance(10 * time.Second)
			got, err := v.ReadTemperature()
			if err != nil {
				t.Fatalf("ReadTemperature: %v", err)
			}
			if math.Abs(got-tt.want) > eps {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVesselNoElapsedTime(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	v, err := NewVessel(VesselParams{Initial: 64, Ambient: 80, Coefficient: 1}, nil, clk.Now)
	if err != nil {
		t.Fatalf("NewVessel: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, _ := v.ReadTemperature()
		if got != 64 {
			t.Fatalf("read %d: got %v, want 64", i, got)
		}
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted(58, 60, 62)
	want := []float64{58, 60, 62, 62}
	for i, w := range want {
		got, err := s.ReadTemperature()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("read %d: got %v, want %v", i, got, w)
		}
	}
	if s.Reads() != 4 {
		t.Fatalf("Reads() = %d, want 4", s.Reads())
	}

	s.ReadError = ErrSensorFault
	if _, err := s.ReadTemperature(); !errors.Is(err, ErrSensorFault) {
		t.Fatalf("expected ErrSensorFault, got %v", err)
	}
}

func TestScriptedEmpty(t *testing.T) {
	s := NewScripted()
	if _, err := s.ReadTemperature(); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestDS18B20KeepsExplicitAddress(t *testing.T) {
	d := NewDS18B20("28-000005e2fdc3")
	addr, err := d.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr != "28-000005e2fdc3" || d.Address() != addr {
		t.Fatalf("unexpected address %q", addr)
	}
}
