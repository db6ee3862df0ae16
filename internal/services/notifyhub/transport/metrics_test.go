package transport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnReg(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.connects.WithLabelValues("sessions", "ok").Inc()
	m.frames.WithLabelValues("sessions", "out").Inc()

	n, err := testutil.GatherAndCount(reg, "notifyhub_transport_connects_total", "notifyhub_transport_frames_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Panics(t, func() { NewMetrics(reg) })
	assert.NotPanics(t, func() { NewMetrics(nil) })
}
