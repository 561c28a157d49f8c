// Package telemetry streams control readings to the central server over a
// websocket channel.
package telemetry

import (
	"encoding/json"
	"math"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
)

const (
	TypeInt   = "int"
	TypeFloat = "float"
)

type Field struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
	Key   string `json:"key"`
}

// Frame is the wire shape of one reading. Field order is fixed:
// state, currentTemp, setTemp, tempRange.
type Frame struct {
	Fields []Field `json:"fields"`
}

func NewFrame(r fermenter.Reading) Frame {
	return Frame{Fields: []Field{
		{Value: int(r.State), Type: TypeInt, Key: "state"},
		{Value: floatValue(r.CurrentTemp), Type: TypeFloat, Key: "currentTemp"},
		{Value: floatValue(r.SetTemp), Type: TypeFloat, Key: "setTemp"},
		{Value: floatValue(r.TempRange), Type: TypeFloat, Key: "tempRange"},
	}}
}

// floatValue maps non-finite values to null, which JSON can carry.
func floatValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func (f Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}
