// Package enginetest provides an in-memory engine.Transport for tests of
// code built on top of the engine.
package enginetest

import (
	"context"
	"sync"
	"testing"

	"github.com/ggoodman/ocpp-server-go/ocpp"
)

// Transport records written frames and lets a test play the charge point.
type Transport struct {
	mu        sync.Mutex
	writes    [][]byte
	written   chan struct{}
	onMessage func(ctx context.Context, data []byte)
	onClose   func(code int, reason string)
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{written: make(chan struct{}, 1024)}
}

func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	t.writes = append(t.writes, append([]byte(nil), data...))
	t.mu.Unlock()
	select {
	case t.written <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) OnMessage(fn func(ctx context.Context, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *Transport) OnClose(fn func(code int, reason string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = fn
}

// Deliver hands raw to the engine as if the charge point had sent it.
func (t *Transport) Deliver(raw string) {
	t.mu.Lock()
	fn := t.onMessage
	t.mu.Unlock()
	if fn != nil {
		fn(context.Background(), []byte(raw))
	}
}

// Close fires the close callback.
func (t *Transport) Close(code int, reason string) {
	t.mu.Lock()
	fn := t.onClose
	t.mu.Unlock()
	if fn != nil {
		fn(code, reason)
	}
}

// Written is signalled after every write.
func (t *Transport) Written() <-chan struct{} { return t.written }

// Frames decodes every frame written so far.
func (t *Transport) Frames(tb testing.TB) []*ocpp.Frame {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ocpp.Frame, 0, len(t.writes))
	for _, w := range t.writes {
		f, err := ocpp.ParseFrame(w)
		if err != nil {
			tb.Fatalf("invalid frame written %s: %v", w, err)
		}
		out = append(out, f)
	}
	return out
}

// Last returns the most recent frame, failing the test if there is none.
func (t *Transport) Last(tb testing.TB) *ocpp.Frame {
	tb.Helper()
	frames := t.Frames(tb)
	if len(frames) == 0 {
		tb.Fatal("no frame was written")
	}
	return frames[len(frames)-1]
}
