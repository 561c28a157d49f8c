package ports

import "github.com/Agrid-Dev/thermobrew/internal/fermenter"

// ConfigService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type ConfigService interface {
	Get() fermenter.Snapshot
	Apply(fermenter.Patch) fermenter.Snapshot
}

// StatusSource exposes the control loop's live status.
type StatusSource interface {
	Status() fermenter.Status
}
