package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/esi_helpdesk/backend/internal/models"
)

func TestObserveTurnCountsByOutcome(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "helpdesk")

	m.ObserveTurn("resolved", models.Tier1, 0.88, 20*time.Millisecond)
	m.ObserveTurn("blocked", models.Tier3, 0, time.Millisecond)
	m.ObserveTurn("escalated", models.Tier4, 0.6, 30*time.Millisecond)
	m.ObserveTurn("escalated", models.Tier4, 0, 30*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("resolved")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("escalated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailBlocks))
	require.Equal(t, 2.0, testutil.ToFloat64(m.TicketsCreated.WithLabelValues("TIER_4")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.TicketsCreated.WithLabelValues("TIER_1")))
}
