// Serialmux provides an abstraction over a serial port that buffers raw
// bytes for a single polling consumer while letting any number of debug
// clients tail the same byte stream.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/safepi/internal/httputil"
	"github.com/banshee-data/safepi/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// DefaultMaxBuffered caps the bytes held between polls. At 115200 baud this
// is a little over 40 ms of input.
const DefaultMaxBuffered = 512

var tailPage = template.Must(template.New("serial").Parse(`<!doctype html>
<html><head><title>serial tail</title></head>
<body><h1>serial tail</h1><pre id="out"></pre>
<script>
const out = document.getElementById("out");
const es = new EventSource("{{.}}");
es.onmessage = (e) => { out.textContent = (e.data + "\n" + out.textContent).slice(0, 20000); };
</script></body></html>`))

// SerialMux is a generic serial port multiplexer. Monitor drains the port
// into a bounded buffer that a poller consumes with Buffered and Take, and
// fans every chunk out to subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	bufMu       sync.Mutex
	buf         bytes.Buffer
	maxBuffered int
	dropped     uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Buffered returns the number of unread bytes held by the mux.
	Buffered() int
	// Take removes and returns up to n buffered bytes.
	Take(n int) []byte
	// ResetInput discards all buffered input, including any held by the
	// port driver.
	ResetInput() error
	// Subscribe creates a new channel receiving a copy of every chunk read
	// from the port. The channel ID is used when unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided bytes to the serial port.
	SendCommand([]byte) error
	// Monitor reads from the serial port until it fails or ctx is done.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
		maxBuffered: DefaultMaxBuffered,
	}
}

// SetMaxBuffered changes the buffer cap. Oldest bytes are dropped first.
func (s *SerialMux[T]) SetMaxBuffered(n int) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if n > 0 {
		s.maxBuffered = n
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Buffered returns the number of bytes waiting to be taken.
func (s *SerialMux[T]) Buffered() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buf.Len()
}

// Take removes and returns up to n bytes from the front of the buffer.
func (s *SerialMux[T]) Take(n int) []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if n > s.buf.Len() {
		n = s.buf.Len()
	}
	out := make([]byte, n)
	copy(out, s.buf.Next(n))
	return out
}

// ResetInput drops everything buffered. When the port supports it the
// driver's input queue is flushed too.
func (s *SerialMux[T]) ResetInput() error {
	s.bufMu.Lock()
	s.buf.Reset()
	s.bufMu.Unlock()
	if r, ok := any(s.port).(InputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

// Dropped returns how many bytes were discarded because the buffer was full.
func (s *SerialMux[T]) Dropped() uint64 {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.dropped
}

// SendCommand sends raw bytes to the serial port.
func (s *SerialMux[T]) SendCommand(command []byte) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write(command)
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

func (s *SerialMux[T]) append(chunk []byte) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buf.Write(chunk)
	if over := s.buf.Len() - s.maxBuffered; over > 0 {
		s.buf.Next(over)
		s.dropped += uint64(over)
	}
}

// Monitor reads the serial port, buffering every chunk and sending a copy to
// subscribers. It returns nil at end of input.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// the blocking Read runs in its own goroutine so the outer loop can
	// observe context cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, 256)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			monitoring.Logf("serialmux: read failed: %v", err)
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				select {
				case err := <-readErrChan:
					monitoring.Logf("serialmux: read failed: %v", err)
					return err
				default:
					monitoring.Logf("serialmux: port reached end of input")
					return nil
				}
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.append(chunk)

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- chunk:
				default:
					// skip slow subscribers so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "live hex tail of the ranging serial port", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tailPage.Execute(w, "/debug/serial-tail"); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	// API endpoint to write a hex-encoded command to the serial port
	debug.HandleSilentFunc("serial-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		raw := strings.ReplaceAll(strings.TrimSpace(r.FormValue("command")), " ", "")
		if raw == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		command, err := hex.DecodeString(raw)
		if err != nil {
			httputil.BadRequest(w, "command must be hex")
			return
		}
		if err := s.SendCommand(command); err != nil {
			httputil.InternalServerError(w, "failed to write command")
			return
		}
		fmt.Fprintf(w, "Wrote % x to serial port", command)
	})

	// Server-Sent Events carrying each chunk read from the port as hex.
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: % x\n\n", chunk); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
