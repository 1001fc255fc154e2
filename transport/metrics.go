package transport

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
)

// MetricHook is the instrumentation surface the coordinator drives for every
// halo registration and pack/send/recv/unpack call, adapted from the
// teacher's client/metrics_prometheus.go and client/metrics_otel.go for
// per-halo rather than per-operation-kind counters.
type MetricHook interface {
	HaloRegistered(direction string, elementCount, numBuffers int)
	PackDuration(haloID int, seconds float64)
	UnpackDuration(haloID int, seconds float64)
	SendCompleted(haloID int, loopback bool)
	RecvCompleted(haloID int, loopback bool)
	LoopbackShortCircuit(haloID int)
}

// NoopMetrics discards every observation; it is the default when a runtime
// is constructed without a MetricHook.
type NoopMetrics struct{}

func (NoopMetrics) HaloRegistered(string, int, int)   {}
func (NoopMetrics) PackDuration(int, float64)         {}
func (NoopMetrics) UnpackDuration(int, float64)       {}
func (NoopMetrics) SendCompleted(int, bool)           {}
func (NoopMetrics) RecvCompleted(int, bool)           {}
func (NoopMetrics) LoopbackShortCircuit(int)          {}

// PrometheusMetrics backs MetricHook with client_golang CounterVec/HistogramVec
// collectors.
type PrometheusMetrics struct {
	registrations *prometheus.CounterVec
	packSeconds   *prometheus.HistogramVec
	unpackSeconds *prometheus.HistogramVec
	sends         *prometheus.CounterVec
	recvs         *prometheus.CounterVec
	loopbacks     *prometheus.CounterVec
}

// NewPrometheusMetrics constructs and registers the collectors against reg.
// Pass prometheus.DefaultRegisterer to publish on the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haloflux",
			Name:      "halos_registered_total",
			Help:      "Number of halos registered, by direction.",
		}, []string{"direction"}),
		packSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haloflux",
			Name:      "pack_seconds",
			Help:      "Time spent packing a halo's staging buffer.",
		}, []string{"halo_id"}),
		unpackSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haloflux",
			Name:      "unpack_seconds",
			Help:      "Time spent unpacking a halo's staging buffer.",
		}, []string{"halo_id"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haloflux",
			Name:      "sends_completed_total",
			Help:      "Completed halo sends, by loopback/cross-rank path.",
		}, []string{"halo_id", "path"}),
		recvs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haloflux",
			Name:      "recvs_completed_total",
			Help:      "Completed halo receives, by loopback/cross-rank path.",
		}, []string{"halo_id", "path"}),
		loopbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haloflux",
			Name:      "loopback_short_circuits_total",
			Help:      "Same-rank loopback short-circuits, by halo id.",
		}, []string{"halo_id"}),
	}
	for _, c := range []prometheus.Collector{m.registrations, m.packSeconds, m.unpackSeconds, m.sends, m.recvs, m.loopbacks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) HaloRegistered(direction string, elementCount, numBuffers int) {
	m.registrations.WithLabelValues(direction).Inc()
}

func (m *PrometheusMetrics) PackDuration(haloID int, seconds float64) {
	m.packSeconds.WithLabelValues(haloLabel(haloID)).Observe(seconds)
}

func (m *PrometheusMetrics) UnpackDuration(haloID int, seconds float64) {
	m.unpackSeconds.WithLabelValues(haloLabel(haloID)).Observe(seconds)
}

func (m *PrometheusMetrics) SendCompleted(haloID int, loopback bool) {
	m.sends.WithLabelValues(haloLabel(haloID), pathLabel(loopback)).Inc()
}

func (m *PrometheusMetrics) RecvCompleted(haloID int, loopback bool) {
	m.recvs.WithLabelValues(haloLabel(haloID), pathLabel(loopback)).Inc()
}

func (m *PrometheusMetrics) LoopbackShortCircuit(haloID int) {
	m.loopbacks.WithLabelValues(haloLabel(haloID)).Inc()
}

// OTelMetrics backs MetricHook with OpenTelemetry metric instruments.
type OTelMetrics struct {
	registrations metric.Int64Counter
	packSeconds   metric.Float64Histogram
	unpackSeconds metric.Float64Histogram
	sends         metric.Int64Counter
	recvs         metric.Int64Counter
	loopbacks     metric.Int64Counter
}

// NewOTelMetrics constructs instruments against the supplied Meter.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	var err error
	m := &OTelMetrics{}
	if m.registrations, err = meter.Int64Counter("haloflux.halos_registered"); err != nil {
		return nil, err
	}
	if m.packSeconds, err = meter.Float64Histogram("haloflux.pack_seconds"); err != nil {
		return nil, err
	}
	if m.unpackSeconds, err = meter.Float64Histogram("haloflux.unpack_seconds"); err != nil {
		return nil, err
	}
	if m.sends, err = meter.Int64Counter("haloflux.sends_completed"); err != nil {
		return nil, err
	}
	if m.recvs, err = meter.Int64Counter("haloflux.recvs_completed"); err != nil {
		return nil, err
	}
	if m.loopbacks, err = meter.Int64Counter("haloflux.loopback_short_circuits"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OTelMetrics) HaloRegistered(direction string, elementCount, numBuffers int) {
	m.registrations.Add(context.Background(), 1, metric.WithAttributes(directionAttr(direction)))
}

func (m *OTelMetrics) PackDuration(haloID int, seconds float64) {
	m.packSeconds.Record(context.Background(), seconds, metric.WithAttributes(haloAttr(haloID)))
}

func (m *OTelMetrics) UnpackDuration(haloID int, seconds float64) {
	m.unpackSeconds.Record(context.Background(), seconds, metric.WithAttributes(haloAttr(haloID)))
}

func (m *OTelMetrics) SendCompleted(haloID int, loopback bool) {
	m.sends.Add(context.Background(), 1, metric.WithAttributes(haloAttr(haloID), pathAttr(loopback)))
}

func (m *OTelMetrics) RecvCompleted(haloID int, loopback bool) {
	m.recvs.Add(context.Background(), 1, metric.WithAttributes(haloAttr(haloID), pathAttr(loopback)))
}

func (m *OTelMetrics) LoopbackShortCircuit(haloID int) {
	m.loopbacks.Add(context.Background(), 1, metric.WithAttributes(haloAttr(haloID)))
}
