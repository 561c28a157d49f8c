package telemetry

import (
	"math"
	"testing"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
)

func TestFrameWireShape(t *testing.T) {
	b, err := NewFrame(fermenter.Reading{
		State:       fermenter.StateHeater,
		CurrentTemp: 58.5,
		SetTemp:     60,
		TempRange:   1,
	}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `{"fields":[` +
		`{"value":0,"type":"int","key":"state"},` +
		`{"value":58.5,"type":"float","key":"currentTemp"},` +
		`{"value":60,"type":"float","key":"setTemp"},` +
		`{"value":1,"type":"float","key":"tempRange"}]}`
	if string(b) != want {
		t.Fatalf("frame mismatch\n got: %s\nwant: %s", b, want)
	}
}

func TestFrameNonFiniteTemperature(t *testing.T) {
	b, err := NewFrame(fermenter.Reading{
		State:       fermenter.StateError,
		CurrentTemp: math.NaN(),
		SetTemp:     60,
		TempRange:   1,
	}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"fields":[` +
		`{"value":3,"type":"int","key":"state"},` +
		`{"value":null,"type":"float","key":"currentTemp"},` +
		`{"value":60,"type":"float","key":"setTemp"},` +
		`{"value":1,"type":"float","key":"tempRange"}]}`
	if string(b) != want {
		t.Fatalf("frame mismatch\n got: %s\nwant: %s", b, want)
	}
}

func TestFanout(t *testing.T) {
	var got []string
	f := Fanout{
		fermenter.PublisherFunc(func(fermenter.Reading) { got = append(got, "a") }),
		nil,
		fermenter.PublisherFunc(func(fermenter.Reading) { got = append(got, "b") }),
	}
	f.Publish(fermenter.Reading{})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestEventKindString(t *testing.T) {
	kinds := map[EventKind]string{
		EventConnected:    "connected",
		EventDisconnected: "disconnected",
		EventText:         "text",
		EventBinary:       "binary",
		EventPing:         "ping",
		EventPong:         "pong",
		EventKind(42):     "unknown",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Fatalf("EventKind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
