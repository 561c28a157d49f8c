package telemetry

import "github.com/Agrid-Dev/thermobrew/internal/fermenter"

// Fanout hands each reading to every publisher in order.
type Fanout []fermenter.Publisher

func (f Fanout) Publish(r fermenter.Reading) {
	for _, p := range f {
		if p != nil {
			p.Publish(r)
		}
	}
}
