package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealPortFactory opens hardware ports with go.bug.st/serial.
type RealPortFactory struct{}

// Open implements SerialPortFactory.
func (RealPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	m := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch mode.Parity {
	case OddParity:
		m.Parity = serial.OddParity
	case EvenParity:
		m.Parity = serial.EvenParity
	}
	if mode.StopBits == TwoStopBits {
		m.StopBits = serial.TwoStopBits
	}
	port, err := serial.Open(path, m)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux opens path through factory and wraps the port in a SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
