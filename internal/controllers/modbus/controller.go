package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
	"github.com/Agrid-Dev/thermobrew/internal/ports"
)

// Register map.
//
//	coil 0              running
//	holding 0           setTemp x100 (int16)
//	holding 1           tempRange x100 (int16)
//	holding 2           dataInterval ms (uint16, saturates)
//	input 0             currentTemp x100 (int16)
//	input 1             state
//	input 2             heaterPin
//	input 3             coolerPin
const (
	holdingSetTemp = iota
	holdingTempRange
	holdingDataInterval
	holdingCount
)

const (
	inputCurrentTemp = iota
	inputState
	inputHeaterPin
	inputCoolerPin
	inputCount
)

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc    ports.ConfigService
	status ports.StatusSource
	cfg    Config
	log    *logger.Logger

	serv *mbserver.Server
}

// New builds the controller. status may be nil, in which case the input
// registers read as zero readings.
func New(svc ports.ConfigService, status ports.StatusSource, cfg Config, log *logger.Logger) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{svc: svc, status: status, cfg: cfg, log: log}, nil
}

// Run starts the Modbus server with handlers that read and write the store
// directly. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, c.readHolding)
	serv.RegisterFunctionHandler(4, c.readInput)
	serv.RegisterFunctionHandler(5, c.writeCoil)
	serv.RegisterFunctionHandler(6, c.writeRegister)
	serv.RegisterFunctionHandler(16, c.writeRegisters)

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Infow("modbus listening", "addr", c.cfg.Addr, "unit", c.cfg.UnitID)

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Read Coils (function 1). Only coil 0 exists.
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), 2000)
	if ex != nil {
		return []byte{}, ex
	}
	if start != 0 || qty != 1 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	coil := byte(0)
	if c.svc.Get().Running {
		coil = 0x01
	}
	// response: byte count (1) + coil bytes
	return []byte{1, coil}, &mbserver.Success
}

// Read Holding Registers (function 3).
func (c *Controller) readHolding(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), 125)
	if ex != nil {
		return []byte{}, ex
	}
	if start+qty > holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	snap := c.svc.Get()
	all := [holdingCount]uint16{
		holdingSetTemp:      encodeTemp(snap.SetTemp),
		holdingTempRange:    encodeTemp(snap.TempRange),
		holdingDataInterval: encodeMillis(snap.DataInterval),
	}
	return registersResponse(all[start : start+qty]), &mbserver.Success
}

// Read Input Registers (function 4).
func (c *Controller) readInput(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := readRange(frame.GetData(), 125)
	if ex != nil {
		return []byte{}, ex
	}
	if start+qty > inputCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	snap := c.svc.Get()
	var st fermenter.Status
	if c.status != nil {
		st = c.status.Status()
	}
	all := [inputCount]uint16{
		inputCurrentTemp: encodeTemp(st.CurrentTemp),
		inputState:       uint16(st.State),
		inputHeaterPin:   uint16(snap.HeaterPin),
		inputCoolerPin:   uint16(snap.CoolerPin),
	}
	return registersResponse(all[start : start+qty]), &mbserver.Success
}

// Write Single Coil (function 5) - running
func (c *Controller) writeCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if addr != 0 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var running bool
	switch value {
	case 0x0000:
		running = false
	case 0xFF00:
		running = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	c.svc.Apply(fermenter.Patch{Running: &running})

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Single Register (function 6)
func (c *Controller) writeRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	var p fermenter.Patch
	if !setHolding(&p, addr, value) {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	c.svc.Apply(p)

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Multiple Registers (function 16). The registers are applied as one
// patch.
func (c *Controller) writeRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}

	var p fermenter.Patch
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if !setHolding(&p, int(start)+i, val) {
			return []byte{}, &mbserver.IllegalDataAddress
		}
	}
	c.svc.Apply(p)

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

// setHolding puts a holding register write into p. It reports false for an
// unknown address. Guards are left to the store.
func setHolding(p *fermenter.Patch, addr int, value uint16) bool {
	switch addr {
	case holdingSetTemp:
		v := decodeTemp(value)
		p.SetTemp = &v
	case holdingTempRange:
		v := decodeTemp(value)
		p.TempRange = &v
	case holdingDataInterval:
		d := time.Duration(value) * time.Millisecond
		p.DataInterval = &d
	default:
		return false
	}
	return true
}

func readRange(data []byte, maxQty int) (start, qty int, ex *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start = int(binary.BigEndian.Uint16(data[0:2]))
	qty = int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	return start, qty, nil
}

// registersResponse builds byte count + register bytes.
func registersResponse(regs []uint16) []byte {
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

const TemperatureScale int = 100

func encodeTemp(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}

func encodeMillis(d time.Duration) uint16 {
	return uint16(min(max(d.Milliseconds(), 0), math.MaxUint16))
}
