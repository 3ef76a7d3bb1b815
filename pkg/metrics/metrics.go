// Package metrics exports streaming and codec statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ardnew/softuac/codec"
	"github.com/ardnew/softuac/pkg"
	"github.com/ardnew/softuac/stream"
)

// Namespace prefixes every metric name.
const Namespace = "softuac"

// Collector records pipeline and codec events as Prometheus metrics. It
// implements [stream.Observer]; pass [Collector.CodecResult] to a codec
// writer's SetOnResult.
type Collector struct {
	occupancy       *prometheus.GaugeVec
	streaming       *prometheus.GaugeVec
	overruns        *prometheus.CounterVec
	underruns       *prometheus.CounterVec
	rateState       prometheus.Gauge
	rateTransitions *prometheus.CounterVec
	codecWrites     *prometheus.CounterVec
}

var _ stream.Observer = (*Collector)(nil)

// New creates a collector and registers its metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		occupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ring_occupancy_slots",
			Help:      "Filled ring slots waiting to be consumed",
		}, []string{"direction"}),

		streaming: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "streaming",
			Help:      "Whether a direction is streaming (1) or stopped (0)",
		}, []string{"direction"}),

		overruns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "overruns_total",
			Help:      "Ring commits that overwrote the oldest unread slot",
		}, []string{"direction"}),

		underruns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "underruns_total",
			Help:      "Service intervals answered with silence or a zero-length packet",
		}, []string{"direction"}),

		rateState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "governor_rate_state",
			Help:      "Codec clock trim (0=none, 1=up, 2=down)",
		}),

		rateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "governor_transitions_total",
			Help:      "Codec clock trim changes by new state",
		}, []string{"state"}),

		codecWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "codec_write_attempts_total",
			Help:      "Codec register write attempts by result",
		}, []string{"result"}),
	}

	for _, d := range []stream.Direction{stream.Playback, stream.Record} {
		c.occupancy.WithLabelValues(d.String())
		c.streaming.WithLabelValues(d.String())
		c.overruns.WithLabelValues(d.String())
		c.underruns.WithLabelValues(d.String())
	}
	pkg.LogDebug(pkg.ComponentMetrics, "metrics registered", "namespace", Namespace)
	return c
}

// StreamingChanged records a direction starting or stopping.
func (c *Collector) StreamingChanged(dir stream.Direction, streaming bool) {
	v := 0.0
	if streaming {
		v = 1
	}
	c.streaming.WithLabelValues(dir.String()).Set(v)
}

// OccupancyChanged records the ring occupancy of a direction.
func (c *Collector) OccupancyChanged(dir stream.Direction, count int) {
	c.occupancy.WithLabelValues(dir.String()).Set(float64(count))
}

// Overrun counts an overwritten slot.
func (c *Collector) Overrun(dir stream.Direction) {
	c.overruns.WithLabelValues(dir.String()).Inc()
}

// Underrun counts a silent service interval.
func (c *Collector) Underrun(dir stream.Direction) {
	c.underruns.WithLabelValues(dir.String()).Inc()
}

// RateStateChanged records a governor transition.
func (c *Collector) RateStateChanged(state stream.RateState) {
	c.rateState.Set(float64(state))
	c.rateTransitions.WithLabelValues(state.String()).Inc()
}

// CodecResult counts one codec write attempt. It matches [codec.ResultFunc].
func (c *Collector) CodecResult(reg uint8, result codec.Result) {
	c.codecWrites.WithLabelValues(result.String()).Inc()
}
