package serialmux

import (
	"fmt"
	"io"
	"strings"
)

// DefaultBaudRate is the TF-Luna factory UART speed.
const DefaultBaudRate = 115200

// SerialPorter is the part of a serial port the mux uses. Tests substitute
// TestableSerialPort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// InputResetter is implemented by ports that can flush the driver's receive
// queue. go.bug.st/serial ports do.
type InputResetter interface {
	ResetInputBuffer() error
}

// SerialPortFactory opens ports. RealPortFactory opens hardware.
type SerialPortFactory interface {
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// SerialPortMode is the line configuration handed to a SerialPortFactory.
type SerialPortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultSerialPortMode is 115200 8N1.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{BaudRate: DefaultBaudRate, DataBits: 8}
}

// PortOptions is the user-facing form of SerialPortMode, accepted as JSON by
// --serial-options. Zero fields take the sensor defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityNames = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

// Normalize fills defaults and validates. Parity comes back as "N", "E" or
// "O".
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	p, ok := parityNames[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// Mode normalizes o and converts it to a SerialPortMode.
func (o PortOptions) Mode() (*SerialPortMode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &SerialPortMode{BaudRate: n.BaudRate, DataBits: n.DataBits}
	if n.StopBits == 2 {
		mode.StopBits = TwoStopBits
	}
	switch n.Parity {
	case "E":
		mode.Parity = EvenParity
	case "O":
		mode.Parity = OddParity
	}
	return mode, nil
}
