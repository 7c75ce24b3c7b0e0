package serialmux

import (
	"io"
	"sync"
	"time"
)

// SimulatedPort stands in for the ranging sensor in dev mode: it emits the
// bytes returned by next on every tick and discards writes.
type SimulatedPort struct {
	r    *io.PipeReader
	stop chan struct{}
	once sync.Once
}

func (p *SimulatedPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *SimulatedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *SimulatedPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.r.Close()
}

// NewSimulatedSerialMux creates a SerialMux over a SimulatedPort that writes
// next() every interval until the mux is closed.
func NewSimulatedSerialMux(next func() []byte, interval time.Duration) *SerialMux[*SimulatedPort] {
	r, w := io.Pipe()
	port := &SimulatedPort{r: r, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-port.stop:
				return
			case <-ticker.C:
				if _, err := w.Write(next()); err != nil {
					return
				}
			}
		}
	}()
	return NewSerialMux(port)
}
