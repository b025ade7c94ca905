package sensors

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emis-air/airnode/internal/i2c"
	"github.com/emis-air/airnode/internal/record"
)

func TestParseFF86(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		ok      bool
		raw     uint16
		ppm     float64
		decimal int
	}{
		{"observed frame", []byte{0xFF, 0x86, 0x00, 0x00, 0x2B, 0x01, 0x00, 0x00}, true, 0, 0, 1},
		{"one decimal", []byte{0xFF, 0x86, 0x00, 0x0F, 0x2B, 0x01, 0x00, 0x00}, true, 15, 1.5, 1},
		{"two decimals", []byte{0xFF, 0x86, 0x01, 0x2C, 0x2B, 0x02, 0x00, 0x00}, true, 300, 3, 2},
		{"decimals out of range", []byte{0xFF, 0x86, 0x00, 0x2A, 0x2B, 0x09, 0x00, 0x00}, true, 42, 42, -1},
		{"short frame unscaled", []byte{0xFF, 0x86, 0x00, 0x07}, true, 7, 7, -1},
		{"wrong header", []byte{0xFF, 0x78, 0x00, 0x07, 0, 0, 0, 0}, false, 0, 0, 0},
		{"too short", []byte{0xFF, 0x86, 0x00}, false, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := ParseFF86(tt.data)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.raw, f.Raw)
			assert.Equal(t, tt.decimal, f.Decimals)
			assert.InDelta(t, tt.ppm, f.PPM(), 1e-9)
		})
	}
}

func TestSO2Sensor_ReadSO2(t *testing.T) {
	bus := i2c.NewMockBus()
	bus.Set(DefaultSO2Address, 0x00, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	bus.Set(DefaultSO2Address, 0x86, []byte{0xFF, 0x86, 0x00, 0x0F, 0x2B, 0x01, 0x00, 0x00})
	s := NewSO2Sensor(bus, DefaultSO2Address)

	r := s.ReadSO2()
	assert.True(t, r.Healthy())
	want := record.Row{
		"so2_ppm": "1.5", "so2_raw": "15", "so2_byte0": "0", "so2_byte1": "15",
		"so2_error": "OK", "so2_status": "ok",
	}
	if diff := cmp.Diff(want, r.Row()); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte{0x00, 0x86}, bus.Reads)
}

func TestSO2Sensor_NoFrame(t *testing.T) {
	bus := i2c.NewMockBus()
	bus.Set(DefaultSO2Address, 0x00, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	bus.Errors[0x86] = errors.New("remote I/O error")
	bus.Errors[0x78] = errors.New("remote I/O error")

	r := NewSO2Sensor(bus, DefaultSO2Address).ReadSO2()
	assert.False(t, r.Healthy())
	assert.Equal(t, record.Row{"so2_error": "NO_FRAME", "so2_status": "error"}, r.Row())
}

func TestSO2Sensor_BusFailure(t *testing.T) {
	bus := i2c.NewMockBus()
	for _, reg := range SO2Registers {
		bus.Errors[reg] = errors.New("remote I/O error")
	}
	r := NewSO2Sensor(bus, DefaultSO2Address).ReadSO2()
	assert.Equal(t, record.Row{
		"so2_ppm":    "NODATA",
		"so2_error":  "exception:remote I/O error",
		"so2_status": "error",
	}, r.Row())

	require.NoError(t, NewSO2Sensor(bus, DefaultSO2Address).Close())
	assert.True(t, bus.Closed)
}

func TestEnvRow(t *testing.T) {
	voc := 12000.5
	ok := EnvRow(&EnvSample{TempC: 21.5, RHPct: 40, PressureHPa: 1013.25, VOCOhm: &voc}, nil)
	assert.Equal(t, record.Row{
		"temp_c": "21.5", "rh_pct": "40", "pressure_hpa": "1013.25", "voc_ohm": "12000.5", "bme_status": "ok",
	}, ok)

	assert.Equal(t, record.Row{"bme_status": "no_data"}, EnvRow(nil, nil))
	assert.Equal(t, record.Row{"bme_status": "error:i2c timeout"}, EnvRow(nil, errors.New("i2c timeout")))

	src := EnvFunc(func() (*EnvSample, error) { return nil, nil })
	s, err := src.ReadEnv()
	assert.Nil(t, s)
	assert.NoError(t, err)
}
