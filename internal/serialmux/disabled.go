package serialmux

import (
	"context"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/safepi/internal/httputil"
)

// DisabledSerialMux stands in for the ranging port under --disable-ranging.
// It never has bytes buffered, so a ranging poller over it never produces a
// sample, and writes succeed without going anywhere.
type DisabledSerialMux struct {
	mu     sync.Mutex
	subs   map[string]chan []byte
	closed bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan []byte)}
}

func (d *DisabledSerialMux) Buffered() int            { return 0 }
func (d *DisabledSerialMux) Take(int) []byte          { return nil }
func (d *DisabledSerialMux) ResetInput() error        { return nil }
func (d *DisabledSerialMux) SendCommand([]byte) error { return nil }

// Subscribe returns a channel that only ever closes. After Close it is
// already closed.
func (d *DisabledSerialMux) Subscribe() (string, chan []byte) {
	id, ch := randomID(), make(chan []byte)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

// Monitor blocks until ctx is done.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes serves /debug/serial as a JSON note that ranging is off.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("serial", "ranging sensor (disabled)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]string{"status": "ranging disabled"})
	})
}
