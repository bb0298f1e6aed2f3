package garagepi

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialForwarder writes every reading as a CSV line to a serial port, for
// a display or logger on the other end.
type SerialForwarder struct {
	mu   sync.Mutex
	port io.WriteCloser
	csv  *CSVWriter
	name string
}

// OpenSerialForwarder opens portName at baudRate.
func OpenSerialForwarder(portName string, baudRate int) (*SerialForwarder, error) {
	mode := &serial.Mode{BaudRate: baudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return NewSerialForwarder(portName, port), nil
}

// NewSerialForwarder wraps an already open port.
func NewSerialForwarder(name string, port io.WriteCloser) *SerialForwarder {
	return &SerialForwarder{
		port: port,
		csv:  NewCSVWriter(port),
		name: name,
	}
}

// ListSerialPorts returns the serial ports present on the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (sf *SerialForwarder) Name() string {
	return sf.name
}

func (sf *SerialForwarder) Forward(ts time.Time, r Reading) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.csv.WriteReading(ts, r)
}

func (sf *SerialForwarder) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.port.Close()
}
