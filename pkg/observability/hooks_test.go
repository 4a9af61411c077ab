package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	c := NoopCodecHooks{}
	c.OnEncodeStart(ctx, "fib", 42)
	c.OnEncodeComplete(ctx, "fib", 512, time.Millisecond, nil)
	c.OnDecodeStart(ctx, "fib", "merge-explode")
	c.OnDecodeComplete(ctx, "fib", 40, time.Millisecond, nil)
	c.OnLoopIteration(ctx, "fib", "unrolling")

	NoopLoopHooks{}.OnLoopsDetected(ctx, "fib", 1, 0, time.Millisecond, nil)

	k := NoopCacheHooks{}
	k.OnCacheHit(ctx, "file")
	k.OnCacheMiss(ctx, "redis")
	k.OnCacheSet(ctx, "mongo", 1024)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Codec().(NoopCodecHooks); !ok {
		t.Error("Codec() should return NoopCodecHooks by default")
	}
	if _, ok := Loops().(NoopLoopHooks); !ok {
		t.Error("Loops() should return NoopLoopHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}

	m := NewMetrics(nil)
	SetCodecHooks(m)
	SetLoopHooks(m)
	SetCacheHooks(m)
	if Codec() != CodecHooks(m) || Loops() != LoopHooks(m) || Cache() != CacheHooks(m) {
		t.Error("Set*Hooks should install custom hooks")
	}

	SetCodecHooks(nil)
	if Codec() != CodecHooks(m) {
		t.Error("SetCodecHooks(nil) should keep existing hooks")
	}

	Reset()
	if _, ok := Codec().(NoopCodecHooks); !ok {
		t.Error("Reset() should restore NoopCodecHooks")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := WithPolicy(context.Background(), "unroll")

	m.OnEncodeComplete(ctx, "fib", 300, time.Millisecond, nil)
	m.OnEncodeComplete(ctx, "fib", 0, time.Millisecond, errors.New("boom"))
	m.OnDecodeComplete(ctx, "fib", 12, time.Millisecond, nil)
	m.OnLoopIteration(ctx, "fib", "unrolling")
	m.OnLoopIteration(ctx, "fib", "unrolling")
	m.OnLoopsDetected(ctx, "fib", 3, 1, time.Millisecond, nil)
	m.OnCacheHit(ctx, "file")
	m.OnCacheSet(ctx, "file", 100)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"encodes ok", testutil.ToFloat64(m.encodes.WithLabelValues("ok")), 1},
		{"encodes error", testutil.ToFloat64(m.encodes.WithLabelValues("error")), 1},
		{"decodes", testutil.ToFloat64(m.decodes.WithLabelValues("unroll", "ok")), 1},
		{"iterations", testutil.ToFloat64(m.iterations.WithLabelValues("unrolling")), 2},
		{"natural loops", testutil.ToFloat64(m.loops.WithLabelValues("natural")), 2},
		{"irreducible loops", testutil.ToFloat64(m.loops.WithLabelValues("irreducible")), 1},
		{"cache hits", testutil.ToFloat64(m.cacheEvents.WithLabelValues("file", "hit")), 1},
		{"cache bytes", testutil.ToFloat64(m.cacheWritten.WithLabelValues("file")), 100},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
