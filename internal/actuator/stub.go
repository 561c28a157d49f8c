//go:build !linux

package actuator

type GPIOLines struct{ MemoryLines }

func OpenGPIO(chip string, heaterPin, coolerPin int, activeLow bool) (*GPIOLines, error) {
	return nil, ErrUnsupported
}

type RPIOLines struct{ MemoryLines }

func OpenRPIO(heaterPin, coolerPin int, activeLow bool) (*RPIOLines, error) {
	return nil, ErrUnsupported
}
