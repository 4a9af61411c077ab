package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerDrawsAndClears(t *testing.T) {
	var w syncBuffer
	s := newSpinnerTo(context.Background(), &w, "Decoding loop")
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	out := w.String()
	if !strings.Contains(out, "Decoding loop") {
		t.Errorf("output = %q, want the message", out)
	}
	if !strings.HasSuffix(out, "\r") {
		t.Errorf("output = %q, want the line cleared", out)
	}
	if s.Cancelled() {
		t.Error("Cancelled() = true after Stop")
	}
}

func TestSpinnerParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSpinnerTo(ctx, &syncBuffer{}, "waiting")
	s.Start()
	cancel()
	s.Stop()
	if !s.Cancelled() {
		t.Error("Cancelled() = false after parent cancellation")
	}
}

func TestSpinnerStop(t *testing.T) {
	s := newSpinnerTo(context.Background(), &syncBuffer{}, "idle")
	s.Stop() // before Start
	s.Stop()

	s = newSpinnerTo(context.Background(), &syncBuffer{}, "busy")
	s.Start()
	s.Stop()
	s.Stop()
}
