package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter. Bytes queued with
// AddReadData are returned by Read; writes are captured.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer

	// ReadError and WriteError are returned once by the next call.
	ReadError  error
	WriteError error

	// BlockReads makes Read wait for data instead of returning io.EOF when
	// nothing is queued.
	BlockReads bool

	Closed     bool
	ResetCalls int
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.out.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// ResetInputBuffer drops queued input, like the driver flush on hardware.
func (p *TestableSerialPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResetCalls++
	p.in.Reset()
	return nil
}

// AddReadData queues bytes for Read.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.cond.Broadcast()
}

// Pending returns the number of queued bytes not yet read.
func (p *TestableSerialPort) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Len()
}

// GetWrittenData returns a copy of everything written so far.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.out.Bytes())
}

// MockSerialPortFactory hands out Port and records each Open.
type MockSerialPortFactory struct {
	mu    sync.Mutex
	Port  SerialPorter
	Error error
	calls []MockOpenCall
}

type MockOpenCall struct {
	Path string
	Mode *SerialPortMode
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, MockOpenCall{Path: path, Mode: mode})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	c := f.calls[len(f.calls)-1]
	return &c
}
