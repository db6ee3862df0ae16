package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	connects *prometheus.CounterVec
	frames   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_transport_connects_total",
			Help: "Session connect attempts by hub and result.",
		}, []string{"hub", "result"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_transport_frames_total",
			Help: "Frames written or read by hub and direction.",
		}, []string{"hub", "direction"}),
	}
	return m
}
