// Package wire holds the JSON shapes shared by the controllers.
package wire

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
)

var ErrMalformedPatch = errors.New("wire: malformed patch")

// SnapshotDTO is the /config payload. Read and write share this shape.
type SnapshotDTO struct {
	Running      bool    `json:"running"`
	Topic        string  `json:"topic"`
	SetTemp      float64 `json:"setTemp"`
	TempRange    float64 `json:"tempRange"`
	HeaterPin    int     `json:"heaterPin"`
	CoolerPin    int     `json:"coolerPin"`
	DataInterval int64   `json:"dataInterval"` // ms
}

func ToDTO(s fermenter.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		Running:      s.Running,
		Topic:        s.Topic,
		SetTemp:      s.SetTemp,
		TempRange:    s.TempRange,
		HeaterPin:    s.HeaterPin,
		CoolerPin:    s.CoolerPin,
		DataInterval: s.DataInterval.Milliseconds(),
	}
}

// DecodePatch reads a partial snapshot. Only a body that is not a JSON
// object is an error. A field that is absent, null or of the wrong type is
// left out of the patch. heaterPin and coolerPin are ignored.
func DecodePatch(b []byte) (fermenter.Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fermenter.Patch{}, errors.Join(ErrMalformedPatch, err)
	}

	p := fermenter.Patch{
		Running:   field[bool](raw, "running"),
		Topic:     field[string](raw, "topic"),
		SetTemp:   field[float64](raw, "setTemp"),
		TempRange: field[float64](raw, "tempRange"),
	}
	if ms := field[float64](raw, "dataInterval"); ms != nil {
		p.DataInterval = Millis(*ms)
	}
	return p, nil
}

func field[T any](raw map[string]json.RawMessage, key string) *T {
	r, ok := raw[key]
	if !ok {
		return nil
	}
	var v *T
	if err := json.Unmarshal(r, &v); err != nil {
		return nil
	}
	return v
}

// Millis converts ms to a duration, or nil if it does not fit.
func Millis(ms float64) *time.Duration {
	if math.IsNaN(ms) || math.Abs(ms) > float64(math.MaxInt64/int64(time.Millisecond)) {
		return nil
	}
	d := time.Duration(ms * float64(time.Millisecond))
	return &d
}
