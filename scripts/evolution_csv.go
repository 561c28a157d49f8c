package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/actuator"
	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/sensor"
)

type SetTempCommand struct {
	Step  int
	Value float64
}

// simClock is advanced by hand so the loop and the vessel share one
// timeline.
type simClock struct{ t time.Time }

func (c *simClock) Now() time.Time { return c.t }

func SimulateFermenter(steps int, filename string, commands []SetTempCommand, latching bool) error {
	initial := fermenter.DefaultSnapshot()
	initial.Running = true
	initial.SetTemp = 66
	initial.TempRange = 1

	store, err := fermenter.NewStore(initial)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	clk := &simClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	drv := actuator.New(actuator.NewMemoryLines(), nil)
	vessel, err := sensor.NewVessel(sensor.VesselParams{
		Initial:     72,
		Ambient:     75,
		Coefficient: 1.e-3,
		HeaterRate:  0.01,
		CoolerRate:  0.02,
	}, drv, clk.Now)
	if err != nil {
		return fmt.Errorf("failed to create vessel: %v", err)
	}

	// Create CSV file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write CSV header
	if err := writer.Write([]string{"Step", "Temperature", "SetTemp", "Low", "High", "State", "Heater", "Cooler"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	step := 0
	var writeErr error
	record := fermenter.PublisherFunc(func(r fermenter.Reading) {
		heater, cooler := drv.Outputs()
		if err := writer.Write([]string{
			fmt.Sprintf("%d", step),
			fmt.Sprintf("%.3f", r.CurrentTemp),
			fmt.Sprintf("%.2f", r.SetTemp),
			fmt.Sprintf("%.2f", r.SetTemp-r.TempRange),
			fmt.Sprintf("%.2f", r.SetTemp+r.TempRange),
			r.State.String(),
			fmt.Sprintf("%t", heater),
			fmt.Sprintf("%t", cooler),
		}); err != nil && writeErr == nil {
			writeErr = fmt.Errorf("failed to write CSV record: %v", err)
		}
	})

	eval := fermenter.Evaluate
	if latching {
		eval = fermenter.EvaluateLatching
	}
	loop := fermenter.NewLoop(store, vessel, drv, record, fermenter.LoopOptions{
		Evaluator: eval,
		Now:       clk.Now,
	})

	// Run simulation
	for step = 1; step <= steps; step++ {
		// Check if we need to update the set temperature
		for _, cmd := range commands {
			if cmd.Step == step {
				v := cmd.Value
				store.Apply(fermenter.Patch{SetTemp: &v})
				break
			}
		}

		clk.t = clk.t.Add(initial.DataInterval)
		loop.Step()
		if writeErr != nil {
			return writeErr
		}
	}

	return nil
}

func main() {
	commands := []SetTempCommand{
		{
			Step:  1800,
			Value: 64.0,
		},
	}
	if err := SimulateFermenter(3600, "thermobrew.csv", commands, false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
