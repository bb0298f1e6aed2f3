package garagepi

import (
	"errors"
	"fmt"
	"os"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrBusUnavailable is returned when the I2C interface is not enabled on
// the host or cannot be opened.
var ErrBusUnavailable = errors.New("bme280: i2c bus unavailable")

// DefaultBusNodes are the device nodes checked before opening the host bus.
var DefaultBusNodes = []string{"/dev/i2c-1", "/dev/i2c/1"}

// Transport performs register-addressed transfers against one peripheral.
type Transport interface {
	ReadBlock(reg byte, n int) ([]byte, error)
	WriteByte(reg, value byte) error
}

// BusError wraps a failed transfer with the register it targeted.
type BusError struct {
	Op  string
	Reg byte
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bme280: %s register %#02x: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

type i2cTransport struct {
	dev i2c.Dev
}

func newI2CTransport(b i2c.Bus, addr uint16) *i2cTransport {
	return &i2cTransport{dev: i2c.Dev{Bus: b, Addr: addr}}
}

func (t *i2cTransport) ReadBlock(reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := t.dev.Tx([]byte{reg}, buf); err != nil {
		return nil, &BusError{Op: "read", Reg: reg, Err: err}
	}
	return buf, nil
}

func (t *i2cTransport) WriteByte(reg, value byte) error {
	if err := t.dev.Tx([]byte{reg, value}, nil); err != nil {
		return &BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

// checkBusNodes reports ErrBusUnavailable unless one of nodes exists.
func checkBusNodes(nodes []string) error {
	for _, n := range nodes {
		if _, err := os.Stat(n); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: none of %v present, enable i2c on the host", ErrBusUnavailable, nodes)
}

// openHostBus initializes periph host drivers and opens the named bus. An
// empty name selects the first available bus.
func openHostBus(name string, nodes []string) (i2c.BusCloser, error) {
	if err := checkBusNodes(nodes); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", ErrBusUnavailable, err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return bus, nil
}
