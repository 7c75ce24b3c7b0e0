package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
	err  error
	gate chan struct{}
}

func (r *recorder) Notify(ctx context.Context, msg string) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestAsync_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.NoError(t, a.Notify(ctx, "person ahead, 2.0 meters away"))
	require.NoError(t, a.Notify(ctx, "car to the left, 4.5 meters away"))

	require.Eventually(t, func() bool { return len(rec.got()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"person ahead, 2.0 meters away", "car to the left, 4.5 meters away"}, rec.got())
	sent, dropped, failed := a.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestAsync_DropsWhenFullWithoutBlocking(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 2)

	// Run not started: the queue fills and further messages are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Notify(context.Background(), "m")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	_, dropped, _ := a.Stats()
	assert.Equal(t, uint64(3), dropped)

	require.NoError(t, a.Close())
	a.Notify(context.Background(), "late")
	_, dropped, _ = a.Stats()
	assert.Equal(t, uint64(4), dropped)
}

func TestAsync_CountsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("link down")}
	a := NewAsync(rec, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Notify(ctx, "x")
	require.Eventually(t, func() bool {
		_, _, failed := a.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("boom")}
	err := Multi{bad, ok}.Notify(context.Background(), "hi")
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"hi"}, ok.got())
	assert.NoError(t, Multi{ok}.Notify(context.Background(), "again"))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewLogNotifier(&buf).Notify(context.Background(), "obstacle ahead, 0.5 meters away"))
	assert.Contains(t, buf.String(), "[say] ")
	assert.Contains(t, buf.String(), "obstacle ahead, 0.5 meters away")
}

func TestFunc(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, msg string) error { got = msg; return nil })
	require.NoError(t, f.Notify(context.Background(), "x"))
	assert.Equal(t, "x", got)
}

func TestHub_Broadcasts(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Notify(context.Background(), "crosswalk found 3.0 meters ahead"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Equal(t, "crosswalk found 3.0 meters ahead", string(data))

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChunkUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want []string
	}{
		{"", 20, nil},
		{"short", 20, []string{"short"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"aé€", 2, []string{"a", "é", "€"}},
	}
	for _, tt := range tests {
		got := chunkUTF8(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "chunkUTF8(%q, %d)", tt.in, tt.n)
		assert.Equal(t, tt.in, strings.Join(got, ""))
	}
}
