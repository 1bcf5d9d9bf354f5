package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/econfeed/internal/model"
)

func TestSeriesScore_PerfectSeries(t *testing.T) {
	now := month(2024, 7)
	points := make([]model.NormalizedPoint, 120)
	for i := range points {
		points[i] = model.NormalizedPoint{
			ItemID: "gasoline-gallon",
			Date:   now.AddDate(0, -i, 0),
			Value:  3.5,
		}
	}

	score := SeriesScore("fred:gasoline-gallon", points, model.Tier1, now)
	assert.Equal(t, 100.0, score.Score)
	assert.Equal(t, model.ConfidenceHigh, score.Bucket)
	assert.Equal(t, 100.0, score.Factors.Coverage)
	assert.Equal(t, 100.0, score.Factors.Recency)
	assert.Equal(t, 100.0, score.Factors.OutlierFreeness)
	assert.Equal(t, 100.0, score.Factors.ProviderTier)
}

func TestSeriesScore_BoundedForAnyInput(t *testing.T) {
	now := time.Now()
	cases := [][]model.NormalizedPoint{
		nil,
		normalizedSeries("a", []float64{1}),
		normalizedSeries("b", make([]float64, 500)),
	}
	for _, points := range cases {
		for _, tier := range []model.ProviderTier{model.Tier1, model.Tier2, model.Tier3} {
			s := SeriesScore("x", points, tier, now)
			assert.GreaterOrEqual(t, s.Score, 0.0)
			assert.LessOrEqual(t, s.Score, 100.0)
		}
	}
}

func TestSeriesScore_RecencyDecay(t *testing.T) {
	now := month(2024, 7)

	fresh := []model.NormalizedPoint{{Date: now}}
	assert.Equal(t, 100.0, SeriesScore("s", fresh, model.Tier1, now).Factors.Recency)

	monthOld := []model.NormalizedPoint{{Date: now.AddDate(0, 0, -30)}}
	assert.InDelta(t, 50.0, SeriesScore("s", monthOld, model.Tier1, now).Factors.Recency, 0.1)

	ancient := []model.NormalizedPoint{{Date: now.AddDate(-1, 0, 0)}}
	assert.Equal(t, 0.0, SeriesScore("s", ancient, model.Tier1, now).Factors.Recency)
}

func TestSeriesScore_OutlierFreenessPenalty(t *testing.T) {
	now := time.Now()
	points := normalizedSeries("a", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	// Flag 2 of 10 points: 20% flagged, freeness = 100 - 40 = 60.
	points[0].Flags = []model.QAFlag{{Type: model.FlagSuddenJump}}
	points[1].Flags = []model.QAFlag{{Type: model.FlagOutlier}}

	s := SeriesScore("a", points, model.Tier1, now)
	assert.InDelta(t, 60.0, s.Factors.OutlierFreeness, 1e-9)
}

func TestSeriesScore_TierFactors(t *testing.T) {
	now := time.Now()
	points := normalizedSeries("a", []float64{1, 2, 3})
	assert.Equal(t, 100.0, SeriesScore("a", points, model.Tier1, now).Factors.ProviderTier)
	assert.Equal(t, 75.0, SeriesScore("a", points, model.Tier2, now).Factors.ProviderTier)
	assert.Equal(t, 50.0, SeriesScore("a", points, model.Tier3, now).Factors.ProviderTier)
}

func TestBucket(t *testing.T) {
	assert.Equal(t, model.ConfidenceHigh, Bucket(80))
	assert.Equal(t, model.ConfidenceMedium, Bucket(79.9))
	assert.Equal(t, model.ConfidenceMedium, Bucket(50))
	assert.Equal(t, model.ConfidenceLow, Bucket(49.9))
}
