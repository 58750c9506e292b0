// Package metrics is the ambient observability surface: a small set of
// Prometheus gauges and counters describing sessions, frames and
// publishes. It never influences a proxy decision; it only counts them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector the proxy exposes on /metrics.
type Registry struct {
	sessionsActive       *prometheus.GaugeVec
	framesTotal          *prometheus.CounterVec
	recordsPublished     *prometheus.CounterVec
	publishErrorsTotal   prometheus.Counter
	unknownFramesTotal   prometheus.Counter
	sessionsDowngraded   prometheus.Counter
}

// New registers and returns a fresh Registry against the default
// Prometheus registerer.
func New() *Registry {
	return &Registry{
		sessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enverproxy_sessions_active",
			Help: "Number of live sessions by mode.",
		}, []string{"mode"}),
		framesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "enverproxy_frames_total",
			Help: "Frames processed by direction and variant.",
		}, []string{"direction", "variant"}),
		recordsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "enverproxy_records_published_total",
			Help: "Inverter telemetry records published, by wrid.",
		}, []string{"wrid"}),
		publishErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enverproxy_publish_errors_total",
			Help: "MQTT publish failures.",
		}),
		unknownFramesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enverproxy_unknown_frames_total",
			Help: "Frames with an unrecognized command tag.",
		}),
		sessionsDowngraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enverproxy_sessions_downgraded_total",
			Help: "Sessions that lost their upstream and fell back to simulation.",
		}),
	}
}

// SessionOpened records a newly accepted session.
func (r *Registry) SessionOpened(simulating bool) {
	r.sessionsActive.WithLabelValues(mode(simulating)).Inc()
}

// SessionClosed records a session's teardown.
func (r *Registry) SessionClosed(simulating bool) {
	r.sessionsActive.WithLabelValues(mode(simulating)).Dec()
}

// SessionDowngraded records a paired session losing its upstream.
func (r *Registry) SessionDowngraded() {
	r.sessionsActive.WithLabelValues("paired").Dec()
	r.sessionsActive.WithLabelValues("simulating").Inc()
	r.sessionsDowngraded.Inc()
}

// FrameProcessed records one frame read from either side of a session.
func (r *Registry) FrameProcessed(direction, variant string) {
	r.framesTotal.WithLabelValues(direction, variant).Inc()
}

// RecordPublished records a successful MQTT publish.
func (r *Registry) RecordPublished(wrid string) {
	r.recordsPublished.WithLabelValues(wrid).Inc()
}

// PublishFailed records a failed MQTT publish.
func (r *Registry) PublishFailed() {
	r.publishErrorsTotal.Inc()
}

// UnknownFrame records a frame whose tag matched nothing in the table.
func (r *Registry) UnknownFrame() {
	r.unknownFramesTotal.Inc()
}

func mode(simulating bool) string {
	if simulating {
		return "simulating"
	}
	return "paired"
}
