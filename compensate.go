package garagepi

import (
	"errors"
	"fmt"

	"garagepi/x/mathx"
)

const dataLen = 8

// ErrShortData is returned when a register block has the wrong length.
var ErrShortData = errors.New("bme280: unexpected data length")

// RawSample is one uncompensated conversion result. It is only meaningful
// until the next measurement is triggered.
type RawSample struct {
	Pressure    uint32 // 20 bits
	Temperature uint32 // 20 bits
	Humidity    uint32 // 16 bits
}

// Reading is a compensated measurement.
type Reading struct {
	TempC    float64 `json:"temp_c"`
	TempF    float64 `json:"temp_f"`
	Pressure float64 `json:"pressure"` // hPa
	Humidity float64 `json:"humidity"` // %RH
}

// Map returns the reading keyed by TempC, TempF, Pressure and Humidity.
func (r Reading) Map() map[string]float64 {
	return map[string]float64{
		"TempC":    r.TempC,
		"TempF":    r.TempF,
		"Pressure": r.Pressure,
		"Humidity": r.Humidity,
	}
}

func (r Reading) String() string {
	return fmt.Sprintf("%.2f°C (%.1f°F), %.1f hPa, %.1f %%RH", r.TempC, r.TempF, r.Pressure, r.Humidity)
}

// decodeRaw unpacks press_msb..hum_lsb (0xF7..0xFE).
func decodeRaw(buf []byte) (RawSample, error) {
	if len(buf) != dataLen {
		return RawSample{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortData, len(buf), dataLen)
	}
	return RawSample{
		Pressure:    uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4,
		Temperature: uint32(buf[3])<<12 | uint32(buf[4])<<4 | uint32(buf[5])>>4,
		Humidity:    uint32(buf[6])<<8 | uint32(buf[7]),
	}, nil
}

// compensate applies the calibration to raw. Temperature goes first since
// pressure and humidity both depend on tFine.
func compensate(raw RawSample, c *Calibration) Reading {
	centi, tFine := c.compensateTemp(raw.Temperature)
	tempC := float64(centi) / 100.0
	return Reading{
		TempC:    tempC,
		TempF:    mathx.RoundTo(tempC*1.8+32, 1),
		Pressure: mathx.RoundTo(c.compensatePressure(raw.Pressure, tFine)/100.0, 1),
		Humidity: mathx.RoundTo(c.compensateHumidity(raw.Humidity, tFine), 1),
	}
}

// compensateTemp returns temperature in 0.01°C and tFine. 5123 equals 51.23°C.
func (c *Calibration) compensateTemp(raw uint32) (int64, int64) {
	adc := int64(raw)
	var1 := (((adc >> 3) - int64(c.T1)<<1) * int64(c.T2)) >> 11
	d := (adc >> 4) - int64(c.T1)
	var2 := (((d * d) >> 12) * int64(c.T3)) >> 14
	tFine := var1 + var2
	return (tFine*5 + 128) >> 8, tFine
}

// compensatePressure returns pressure in Pa.
func (c *Calibration) compensatePressure(raw uint32, tFine int64) float64 {
	var1 := float64(tFine)/2.0 - 64000.0
	var2 := var1 * var1 * float64(c.P6) / 32768.0
	var2 = var2 + var1*float64(c.P5)*2.0
	var2 = var2/4.0 + float64(c.P4)*65536.0
	var1 = (float64(c.P3)*var1*var1/524288.0 + float64(c.P2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(c.P1)
	if var1 == 0 {
		// Avoid division by zero.
		return 0
	}
	p := 1048576.0 - float64(raw)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(c.P9) * p * p / 2147483648.0
	var2 = p * float64(c.P8) / 32768.0
	return p + (var1+var2+float64(c.P7))/16.0
}

// compensateHumidity returns relative humidity in %, clamped to [0, 100].
func (c *Calibration) compensateHumidity(raw uint32, tFine int64) float64 {
	h := float64(tFine) - 76800.0
	h = (float64(raw) - (float64(c.H4)*64.0 + float64(c.H5)/16384.0*h)) *
		(float64(c.H2) / 65536.0 * (1.0 + float64(c.H6)/67108864.0*h*(1.0+float64(c.H3)/67108864.0*h)))
	h = h * (1.0 - float64(c.H1)*h/524288.0)
	return mathx.Clamp(h, 0, 100)
}
