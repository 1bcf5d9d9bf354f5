package monitoring

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/store"
)

func seedCalls(t *testing.T, st store.Store, connectorID string, base time.Time, outcomes []bool, dur time.Duration, coverage float64) {
	t.Helper()
	ctx := context.Background()
	for i, ok := range outcomes {
		cov := 0.0
		if ok {
			cov = coverage
		}
		require.NoError(t, st.AppendCallRecord(ctx, model.CallRecord{
			ID:          fmt.Sprintf("%s-%d-%d", connectorID, base.Unix(), i),
			ConnectorID: connectorID,
			Kind:        "fetch",
			OK:          ok,
			Duration:    dur,
			Coverage:    cov,
			Error:       "",
			At:          base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestScorecardAllHealthy(t *testing.T) {
	st := newTestStore(t)
	b := NewScorecardBuilder(nil, st)
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return base.Add(time.Hour) })

	seedCalls(t, st, "fred", base, []bool{true, true, true, true}, 200*time.Millisecond, 100)

	card, err := b.Build(context.Background(), "fred", model.Period24h)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, card.Availability, 0.001)
	assert.InDelta(t, 100.0, card.Accuracy, 0.001)
	assert.InDelta(t, 100.0, card.Completeness, 0.001)
	assert.InDelta(t, 100.0, card.Consistency, 0.001)
	assert.Greater(t, card.Freshness, 90.0)
	assert.Greater(t, card.Overall, 95.0)
	assert.Empty(t, card.Recommendations)
}

func TestScorecardDegradedSource(t *testing.T) {
	st := newTestStore(t)
	b := NewScorecardBuilder(nil, st)
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return base.Add(time.Hour) })

	// Half the calls fail.
	seedCalls(t, st, "statfeed-ftp", base, []bool{true, false, true, false}, 200*time.Millisecond, 80)

	card, err := b.Build(context.Background(), "statfeed-ftp", model.Period24h)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, card.Availability, 0.001)
	assert.InDelta(t, 0.0, card.Accuracy, 0.001)
	assert.InDelta(t, 80.0, card.Completeness, 0.001)
	assert.Less(t, card.Overall, 60.0)
	require.NotEmpty(t, card.Recommendations)
	assert.Contains(t, card.Recommendations[0], "Availability")
}

func TestScorecardSlowResponsesRecommendation(t *testing.T) {
	st := newTestStore(t)
	b := NewScorecardBuilder(nil, st)
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return base.Add(time.Hour) })

	seedCalls(t, st, "eia-sdmx", base, []bool{true, true}, 5*time.Second, 100)

	card, err := b.Build(context.Background(), "eia-sdmx", model.Period24h)
	require.NoError(t, err)

	require.NotEmpty(t, card.Recommendations)
	found := false
	for _, r := range card.Recommendations {
		if strings.Contains(r, "response time") {
			found = true
		}
	}
	assert.True(t, found, "expected a slow-response recommendation, got %v", card.Recommendations)
}

func TestScorecardNoActivity(t *testing.T) {
	st := newTestStore(t)
	b := NewScorecardBuilder(nil, st)

	card, err := b.Build(context.Background(), "ghost", model.Period7d)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, card.Availability, 0.001)
	assert.Zero(t, card.Freshness)
	require.NotEmpty(t, card.Recommendations)
	assert.Contains(t, card.Recommendations[0], "No calls recorded")
}

func TestScorecardPeriodFiltersOldCalls(t *testing.T) {
	st := newTestStore(t)
	b := NewScorecardBuilder(nil, st)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	// Old failures fall outside the 24h window; only the recent success counts.
	seedCalls(t, st, "fred", now.Add(-72*time.Hour), []bool{false, false, false}, 200*time.Millisecond, 0)
	seedCalls(t, st, "fred", now.Add(-time.Hour), []bool{true}, 200*time.Millisecond, 100)

	card, err := b.Build(context.Background(), "fred", model.Period24h)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, card.Availability, 0.001)

	weekly, err := b.Build(context.Background(), "fred", model.Period7d)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, weekly.Availability, 0.001)
}
