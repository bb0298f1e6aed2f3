// Package garagepi reads a Bosch BME280 temperature, pressure and humidity
// sensor over I²C and serves its readings.
//
// Datasheet:
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
package garagepi

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// Address is the default I²C address (SDO tied to GND). 0x77 when SDO is high.
	Address = 0x76
	// ChipID is the value of the id register on a BME280.
	ChipID = 0x60

	regChipID   = 0xD0
	regCtrlHum  = 0xF2
	regStatus   = 0xF3
	regCtrlMeas = 0xF4
	regConfig   = 0xF5 // filter and standby, left at reset defaults
	regData     = 0xF7

	statusMeasuring = 0x08

	modeForced = 0x01
)

// ErrConversionTimeout is returned when the status register still reports a
// conversion in progress after Opts.PollTimeout.
var ErrConversionTimeout = errors.New("bme280: conversion timeout")

// ErrNotTriggered is returned by Collect without a preceding Trigger.
var ErrNotTriggered = errors.New("bme280: no conversion triggered")

// Oversampling is the ctrl_hum/ctrl_meas oversampling setting.
type Oversampling uint8

const (
	Off Oversampling = iota
	O1x
	O2x
	O4x
	O8x
	O16x
)

// Multiplier returns the number of samples taken per conversion.
func (o Oversampling) Multiplier() int {
	if o == Off {
		return 0
	}
	if o > O16x {
		return 16
	}
	return 1 << (o - 1)
}

func (o Oversampling) String() string {
	if o == Off {
		return "off"
	}
	return fmt.Sprintf("%dx", o.Multiplier())
}

// ParseOversampling accepts "off", "1x", "2x", "4x", "8x" or "16x".
func ParseOversampling(s string) (Oversampling, error) {
	for o := Off; o <= O16x; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return Off, fmt.Errorf("bme280: invalid oversampling %q", s)
}

// Opts configures a Dev. Zero fields take the DefaultOpts value.
type Opts struct {
	Address     uint16
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	// PollInterval is the delay between status reads once the computed
	// conversion time has elapsed.
	PollInterval time.Duration
	// PollTimeout bounds the status polling.
	PollTimeout time.Duration
	// BusNodes are checked by Open before touching the host bus.
	BusNodes []string
	Logger   log.FieldLogger
}

// DefaultOpts mirrors the common forced-mode setup: 2x on every channel.
var DefaultOpts = Opts{
	Address:      Address,
	Temperature:  O2x,
	Pressure:     O2x,
	Humidity:     O2x,
	PollInterval: time.Millisecond,
	PollTimeout:  50 * time.Millisecond,
	BusNodes:     DefaultBusNodes,
}

func (o *Opts) withDefaults() Opts {
	c := DefaultOpts
	if o == nil {
		c.Logger = log.StandardLogger()
		return c
	}
	if o.Address != 0 {
		c.Address = o.Address
	}
	if o.Temperature != Off {
		c.Temperature = o.Temperature
	}
	if o.Pressure != Off {
		c.Pressure = o.Pressure
	}
	if o.Humidity != Off {
		c.Humidity = o.Humidity
	}
	if o.PollInterval > 0 {
		c.PollInterval = o.PollInterval
	}
	if o.PollTimeout > 0 {
		c.PollTimeout = o.PollTimeout
	}
	if len(o.BusNodes) > 0 {
		c.BusNodes = o.BusNodes
	}
	c.Logger = o.Logger
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
	return c
}

// Identity is the content of the id register pair.
type Identity struct {
	ChipID      uint8
	ChipVersion uint8
}

// IsBME280 reports whether the chip id matches a BME280.
func (id Identity) IsBME280() bool {
	return id.ChipID == ChipID
}

// Map returns the identity keyed by ChipID and ChipVersion.
func (id Identity) Map() map[string]int {
	return map[string]int{
		"ChipID":      int(id.ChipID),
		"ChipVersion": int(id.ChipVersion),
	}
}

// Dev is a handle to a BME280. Measurement cycles are serialized; the
// device holds conversion state for the whole cycle.
type Dev struct {
	mu    sync.Mutex
	t     Transport
	bus   i2c.BusCloser // non-nil only when opened by Open
	opts  Opts
	cal   Calibration
	log   log.FieldLogger
	sleep func(time.Duration)

	// pending is set by Trigger and cleared by Collect.
	pending bool
}

// Open opens the named host I²C bus ("" for the first one) and binds a
// Dev to it. The bus is closed again on failure.
func Open(busName string, opts *Opts) (*Dev, error) {
	o := opts.withDefaults()
	bus, err := openHostBus(busName, o.BusNodes)
	if err != nil {
		o.Logger.WithError(err).Error("i2c is not enabled")
		return nil, err
	}
	o.Logger.Infof("i2c bus %s opened", bus)
	d, err := NewI2C(bus, &o)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus
	return d, nil
}

// NewI2C returns a Dev on an already opened bus.
func NewI2C(b i2c.Bus, opts *Opts) (*Dev, error) {
	o := opts.withDefaults()
	return New(newI2CTransport(b, o.Address), &o)
}

// New returns a Dev using t and loads its calibration.
func New(t Transport, opts *Opts) (*Dev, error) {
	o := opts.withDefaults()
	d := &Dev{
		t:     t,
		opts:  o,
		sleep: time.Sleep,
		log: o.Logger.WithFields(log.Fields{
			"sensor":  "bme280",
			"address": fmt.Sprintf("%#x", o.Address),
		}),
	}
	d.log.Info("instantiating bme280")

	cal, err := loadCalibration(t)
	if err != nil {
		return nil, err
	}
	d.cal = cal
	d.log.Debugf("calibration: %+v", cal)
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("BME280{%#x}", d.opts.Address)
}

// Calibration returns a copy of the coefficients loaded at construction.
func (d *Dev) Calibration() Calibration {
	return d.cal
}

// ReadID reads the chip id and version.
func (d *Dev) ReadID() (Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.t.ReadBlock(regChipID, 2)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{ChipID: buf[0], ChipVersion: buf[1]}
	d.log.Infof("chip id = %#x, chip version = %#x", id.ChipID, id.ChipVersion)
	return id, nil
}

// Trigger starts one forced conversion and returns the minimum time to wait
// before calling Collect.
func (d *Dev) Trigger() (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.start()
}

// Collect waits for the conversion started by Trigger to finish and returns
// its result.
func (d *Dev) Collect() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.collect()
	if err != nil {
		return Reading{}, err
	}
	return d.report(raw), nil
}

// Read runs a full forced measurement cycle.
func (d *Dev) Read() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.measure()
	if err != nil {
		return Reading{}, err
	}
	return d.report(raw), nil
}

func (d *Dev) report(raw RawSample) Reading {
	r := compensate(raw, &d.cal)
	d.log.WithFields(log.Fields{
		"temp_c":   r.TempC,
		"temp_f":   r.TempF,
		"pressure": r.Pressure,
		"humidity": r.Humidity,
	}).Info("reading")
	return r
}

// Sense implements the periph physic.SenseEnv style of reporting. Values
// are not rounded for display: temperature has 0.01°C resolution, pressure
// and humidity keep the full compensated precision.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.measure()
	if err != nil {
		return err
	}
	centi, tFine := d.cal.compensateTemp(raw.Temperature)
	pa := d.cal.compensatePressure(raw.Pressure, tFine)
	rh := d.cal.compensateHumidity(raw.Humidity, tFine)

	e.Temperature = physic.ZeroCelsius + physic.Temperature(centi)*10*physic.MilliCelsius
	e.Pressure = physic.Pressure(math.Round(pa*1e6)) * physic.MicroPascal
	e.Humidity = physic.RelativeHumidity(math.Round(rh*1e4)) * physic.MicroRH
	return nil
}

// Close releases the bus if it was opened by Open.
func (d *Dev) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}

// measure, start and collect must be called with d.mu held.
func (d *Dev) measure() (RawSample, error) {
	wait, err := d.start()
	if err != nil {
		return RawSample{}, err
	}
	d.sleep(wait)
	return d.collect()
}

func (d *Dev) start() (time.Duration, error) {
	wait, err := trigger(d.t, d.opts.Temperature, d.opts.Pressure, d.opts.Humidity, modeForced)
	if err != nil {
		return 0, err
	}
	d.pending = true
	return wait, nil
}

// collect polls status then reads the data block. A failed collect needs a
// new trigger.
func (d *Dev) collect() (RawSample, error) {
	if !d.pending {
		return RawSample{}, ErrNotTriggered
	}
	d.pending = false
	if err := d.waitIdle(); err != nil {
		return RawSample{}, err
	}

	buf, err := d.t.ReadBlock(regData, dataLen)
	if err != nil {
		return RawSample{}, err
	}
	raw, err := decodeRaw(buf)
	if err != nil {
		return RawSample{}, err
	}
	d.log.Debugf("raw data: pressure = %d, temp = %d, humid = %d", raw.Pressure, raw.Temperature, raw.Humidity)
	return raw, nil
}

// waitIdle polls the measuring bit until the conversion has finished.
func (d *Dev) waitIdle() error {
	for start := time.Now(); ; {
		st, err := d.t.ReadBlock(regStatus, 1)
		if err != nil {
			return err
		}
		if st[0]&statusMeasuring == 0 {
			return nil
		}
		if time.Since(start) >= d.opts.PollTimeout {
			return ErrConversionTimeout
		}
		d.sleep(d.opts.PollInterval)
	}
}

// trigger writes ctrl_hum then ctrl_meas; ctrl_hum only takes effect after
// the ctrl_meas write.
func trigger(t Transport, ot, op, oh Oversampling, mode byte) (time.Duration, error) {
	if err := t.WriteByte(regCtrlHum, byte(oh)&0x07); err != nil {
		return 0, err
	}
	ctrl := byte(ot)&0x07<<5 | byte(op)&0x07<<2 | mode&0x03
	if err := t.WriteByte(regCtrlMeas, ctrl); err != nil {
		return 0, err
	}
	return conversionTime(ot, op, oh), nil
}

// conversionTime is the datasheet maximum measurement time (appendix B).
func conversionTime(ot, op, oh Oversampling) time.Duration {
	ms := 1.25 +
		2.3*float64(ot.Multiplier()) +
		2.3*float64(op.Multiplier()) + 0.575 +
		2.3*float64(oh.Multiplier()) + 0.575
	return time.Duration(math.Ceil(ms * float64(time.Millisecond)))
}
