package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(registry.DefaultItemCatalog())
}

func TestNormalize_ConvertsAlternateUnit(t *testing.T) {
	v := newTestValidator()
	n := newTestNormalizer()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 350, "usd-cents/gallon"),
	}

	out := n.Normalize(raw, v.Validate(raw, 1))
	require.Len(t, out.Points, 1)
	assert.InDelta(t, 3.50, out.Points[0].Value, 1e-9)
	assert.Equal(t, "usd/gallon", out.Points[0].Unit)
	assert.Equal(t, model.FrequencyMonthly, out.Points[0].Frequency)
	assert.Equal(t, model.AggEndOfPeriod, out.Points[0].Aggregation)
	assert.Equal(t, Version, out.Points[0].Version)
	assert.Equal(t, "p1", out.Points[0].RawPointID)
}

func TestNormalize_ErrorFlaggedPointBlocked(t *testing.T) {
	v := newTestValidator()
	n := newTestNormalizer()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), -3.50, "usd/gallon"),
		rawPoint("p2", "gasoline-gallon", month(2024, 2), 3.55, "usd/gallon"),
	}

	out := n.Normalize(raw, v.Validate(raw, 2))
	require.Len(t, out.Points, 1)
	assert.Equal(t, "p2", out.Points[0].RawPointID)
}

func TestNormalize_UnknownConversionDropsPoint(t *testing.T) {
	v := newTestValidator()
	n := newTestNormalizer()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 3.50, "eur/liter"),
	}

	out := n.Normalize(raw, v.Validate(raw, 1))
	assert.Empty(t, out.Points, "no conversion path must drop, not guess")
}

func TestNormalize_SingleWarningIsMedium(t *testing.T) {
	// End-to-end scenario: a 63.9% jump in 2024-03 gets a sudden-jump
	// warning but still normalizes at medium confidence.
	v := newTestValidator()
	n := newTestNormalizer()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 3.00, "usd/gallon"),
		rawPoint("p2", "gasoline-gallon", month(2024, 2), 3.05, "usd/gallon"),
		rawPoint("p3", "gasoline-gallon", month(2024, 3), 5.00, "usd/gallon"),
	}

	vr := v.Validate(raw, 3)
	assert.True(t, vr.Passed)

	out := n.Normalize(raw, vr)
	require.Len(t, out.Points, 3)

	var jumped *model.NormalizedPoint
	for i := range out.Points {
		if out.Points[i].Date.Equal(month(2024, 3)) {
			jumped = &out.Points[i]
		}
	}
	require.NotNil(t, jumped)
	assert.True(t, jumped.HasFlag(model.FlagSuddenJump))
	assert.Equal(t, model.ConfidenceMedium, jumped.Confidence)

	for i := range out.Points {
		if !out.Points[i].Date.Equal(month(2024, 3)) {
			assert.Equal(t, model.ConfidenceHigh, out.Points[i].Confidence)
		}
	}
}

func TestPointConfidence(t *testing.T) {
	err := model.QAFlag{Severity: model.SeverityError}
	warn := model.QAFlag{Severity: model.SeverityWarning}

	assert.Equal(t, model.ConfidenceLow, pointConfidence([]model.QAFlag{err}, nil))
	assert.Equal(t, model.ConfidenceLow, pointConfidence([]model.QAFlag{err}, []model.QAFlag{warn}))
	assert.Equal(t, model.ConfidenceMedium, pointConfidence(nil, []model.QAFlag{warn, warn}))
	assert.Equal(t, model.ConfidenceMedium, pointConfidence(nil, []model.QAFlag{warn}))
	assert.Equal(t, model.ConfidenceHigh, pointConfidence(nil, nil))
}

func TestNormalize_OutlierPassRuns(t *testing.T) {
	v := newTestValidator()
	n := newTestNormalizer()
	values := []float64{10, 11, 9, 10, 100, 10, 11}
	raw := make([]model.RawPoint, len(values))
	for i, val := range values {
		raw[i] = rawPoint(
			string(rune('a'+i)), "rent-2br", month(2023, time.Month(i+1)), val, "usd/month")
	}

	out := n.Normalize(raw, v.Validate(raw, len(values)))
	require.Len(t, out.Points, len(values))

	flagged := 0
	for _, p := range out.Points {
		if p.HasFlag(model.FlagOutlier) {
			flagged++
			assert.Equal(t, 100.0, p.Value)
			assert.Equal(t, model.ConfidenceLow, p.Confidence)
		}
	}
	assert.Equal(t, 1, flagged)
}
