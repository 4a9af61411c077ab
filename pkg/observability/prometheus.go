package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements every hook interface on top of Prometheus collectors.
type Metrics struct {
	encodes      *prometheus.CounterVec
	encodeBytes  prometheus.Histogram
	decodes      *prometheus.CounterVec
	decodeNodes  prometheus.Histogram
	durations    *prometheus.HistogramVec
	iterations   *prometheus.CounterVec
	loops        *prometheus.CounterVec
	cacheEvents  *prometheus.CounterVec
	cacheWritten *prometheus.CounterVec
}

var (
	_ CodecHooks = (*Metrics)(nil)
	_ LoopHooks  = (*Metrics)(nil)
	_ CacheHooks = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		encodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "encodes_total", Help: "Graphs encoded, by outcome.",
		}, []string{"outcome"}),
		encodeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "irgraph", Name: "encoded_bytes", Help: "Size of encoded graphs.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "decodes_total", Help: "Graphs decoded, by policy and outcome.",
		}, []string{"policy", "outcome"}),
		decodeNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "irgraph", Name: "decoded_nodes", Help: "Live nodes in decoded graphs.",
			Buckets: prometheus.ExponentialBuckets(8, 4, 8),
		}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "irgraph", Name: "operation_seconds", Help: "Duration of codec operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "loop_iterations_total", Help: "Loop scopes created by explosion, by trigger.",
		}, []string{"trigger"}),
		loops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "loops_detected_total", Help: "Loops reconstructed after explosion, by shape.",
		}, []string{"shape"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "cache_lookups_total", Help: "Cache lookups, by backend and result.",
		}, []string{"backend", "result"}),
		cacheWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irgraph", Name: "cache_written_bytes_total", Help: "Bytes written to the cache, by backend.",
		}, []string{"backend"}),
	}
	if reg != nil {
		reg.MustRegister(m.encodes, m.encodeBytes, m.decodes, m.decodeNodes, m.durations,
			m.iterations, m.loops, m.cacheEvents, m.cacheWritten)
	}
	return m
}

// decodePolicy carries the policy label from OnDecodeStart to OnDecodeComplete.
type decodePolicy struct{}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) OnEncodeStart(context.Context, string, int) {}

func (m *Metrics) OnEncodeComplete(_ context.Context, _ string, size int, d time.Duration, err error) {
	m.encodes.WithLabelValues(outcome(err)).Inc()
	m.durations.WithLabelValues("encode").Observe(d.Seconds())
	if err == nil {
		m.encodeBytes.Observe(float64(size))
	}
}

func (m *Metrics) OnDecodeStart(context.Context, string, string) {}

func (m *Metrics) OnDecodeComplete(ctx context.Context, _ string, nodes int, d time.Duration, err error) {
	policy, _ := ctx.Value(decodePolicy{}).(string)
	if policy == "" {
		policy = "unknown"
	}
	m.decodes.WithLabelValues(policy, outcome(err)).Inc()
	m.durations.WithLabelValues("decode").Observe(d.Seconds())
	if err == nil {
		m.decodeNodes.Observe(float64(nodes))
	}
}

// WithPolicy labels decode metrics recorded under ctx with the given policy.
func WithPolicy(ctx context.Context, policy string) context.Context {
	return context.WithValue(ctx, decodePolicy{}, policy)
}

func (m *Metrics) OnLoopIteration(_ context.Context, _, trigger string) {
	m.iterations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) OnLoopsDetected(_ context.Context, _ string, loops, irreducible int, d time.Duration, _ error) {
	m.loops.WithLabelValues("natural").Add(float64(loops - irreducible))
	m.loops.WithLabelValues("irreducible").Add(float64(irreducible))
	m.durations.WithLabelValues("detect_loops").Observe(d.Seconds())
}

func (m *Metrics) OnCacheHit(_ context.Context, backend string) {
	m.cacheEvents.WithLabelValues(backend, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, backend string) {
	m.cacheEvents.WithLabelValues(backend, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, backend string, size int) {
	m.cacheWritten.WithLabelValues(backend).Add(float64(size))
}
