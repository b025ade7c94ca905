package sensors

import (
	"strconv"
	"sync"

	"github.com/emis-air/airnode/internal/i2c"
	"github.com/emis-air/airnode/internal/record"
)

// DFRobot Gravity SO2 defaults.
const (
	DefaultSO2Bus     = 1
	DefaultSO2Address = 0x74

	so2FrameSize = 8
)

// SO2Registers are tried in order each tick.
var SO2Registers = []byte{0x00, 0x86, 0x78}

// SO2 error column values.
const (
	SO2ErrorOK      = "OK"
	SO2ErrorNoFrame = "NO_FRAME"
)

// SO2Frame is a decoded FF 86 response:
//
//	[0]=0xFF [1]=0x86 [2]=high [3]=low [4]=gas type [5]=decimals
type SO2Frame struct {
	Raw      uint16
	Byte0    byte
	Byte1    byte
	Decimals int // -1 when the decimals byte is out of range
}

// PPM returns the concentration. The raw value is scaled by the decimals
// byte when it is in range and used unscaled otherwise.
func (f SO2Frame) PPM() float64 {
	v := float64(f.Raw)
	for i := 0; i < f.Decimals; i++ {
		v /= 10
	}
	return v
}

// ParseFF86 decodes an FF 86 frame. ok is false without the header.
func ParseFF86(data []byte) (f SO2Frame, ok bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0x86 {
		return SO2Frame{}, false
	}
	f = SO2Frame{
		Raw:      uint16(data[2])<<8 | uint16(data[3]),
		Byte0:    data[2],
		Byte1:    data[3],
		Decimals: -1,
	}
	if len(data) > 5 && data[5] <= 3 {
		f.Decimals = int(data[5])
	}
	return f, true
}

// SO2Reading is one tick's trace-gas outcome.
type SO2Reading struct {
	Frame  *SO2Frame
	Error  string
	Status string
}

// Healthy reports whether a frame was read.
func (r SO2Reading) Healthy() bool { return r.Status == "ok" }

// Row returns the so2_* columns.
func (r SO2Reading) Row() record.Row {
	row := record.Row{
		"so2_error":  r.Error,
		"so2_status": r.Status,
	}
	switch {
	case r.Frame != nil:
		row["so2_ppm"] = formatFloat(r.Frame.PPM())
		row["so2_raw"] = strconv.Itoa(int(r.Frame.Raw))
		row["so2_byte0"] = strconv.Itoa(int(r.Frame.Byte0))
		row["so2_byte1"] = strconv.Itoa(int(r.Frame.Byte1))
	case r.Error != SO2ErrorNoFrame:
		row["so2_ppm"] = "NODATA"
	}
	return row
}

// SO2Sensor polls a DFRobot SO2 module on an I2C bus.
type SO2Sensor struct {
	mu   sync.Mutex
	bus  i2c.Bus
	addr uint16
}

// NewSO2Sensor returns a sensor at addr on bus.
func NewSO2Sensor(bus i2c.Bus, addr uint16) *SO2Sensor {
	return &SO2Sensor{bus: bus, addr: addr}
}

// ReadSO2 tries each register and returns the first FF 86 frame. When every
// register read fails the last bus error is reported.
func (s *SO2Sensor) ReadSO2() SO2Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	failed := 0
	buf := make([]byte, so2FrameSize)
	for _, reg := range SO2Registers {
		if err := s.bus.ReadRegister(s.addr, reg, buf); err != nil {
			lastErr = err
			failed++
			continue
		}
		if f, ok := ParseFF86(buf); ok {
			return SO2Reading{Frame: &f, Error: SO2ErrorOK, Status: "ok"}
		}
	}
	if failed == len(SO2Registers) {
		return SO2Reading{Error: "exception:" + lastErr.Error(), Status: "error"}
	}
	return SO2Reading{Error: SO2ErrorNoFrame, Status: "error"}
}

// Close releases the bus.
func (s *SO2Sensor) Close() error {
	return s.bus.Close()
}
