package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "not_found", Result(domain.NewNotFoundError("order", "o1")))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestObserve_CountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCommand("order.ship", nil, 3*time.Millisecond)
	m.ObserveCommand("order.ship", domain.NewInvalidStateError("nope"), time.Millisecond)
	m.ObserveDeadLetter("order-events")
	m.ObserveDeadLetter("order-events")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("order.ship", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("order.ship", "invalid_state")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues("order-events")))
}

func TestObserve_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("x", nil, 0)
	m.ObserveQuery("x", nil)
	m.ObserveEvent("x", "y", nil)
	m.ObserveProduced("t", nil)
	m.ObserveConsumed("t", nil)
	m.ObserveDeadLetter("t")
}
