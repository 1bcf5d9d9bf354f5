package pipeline

import (
	"time"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

// Factor weights for the series-level confidence score.
const (
	weightCoverage        = 0.30
	weightRecency         = 0.20
	weightOutlierFreeness = 0.30
	weightProviderTier    = 0.20

	// fullCoveragePoints is ten years of monthly observations.
	fullCoveragePoints = 120
)

// SeriesScore computes the aggregate confidence score for a normalized
// series. Recency is measured from the last normalized point's date, not the
// last raw retrieval.
func SeriesScore(seriesID string, points []model.NormalizedPoint, tier model.ProviderTier, now time.Time) model.ConfidenceScore {
	factors := model.ConfidenceFactors{
		Coverage:        coverageFactor(len(points)),
		Recency:         recencyFactor(points, now),
		OutlierFreeness: outlierFreenessFactor(points),
		ProviderTier:    registry.TierScore(tier),
	}

	score := weightCoverage*factors.Coverage +
		weightRecency*factors.Recency +
		weightOutlierFreeness*factors.OutlierFreeness +
		weightProviderTier*factors.ProviderTier

	return model.ConfidenceScore{
		SeriesID:   seriesID,
		Score:      score,
		Bucket:     Bucket(score),
		Factors:    factors,
		ComputedAt: now.UTC(),
	}
}

// Bucket maps a 0-100 score to its confidence bucket: high >= 80,
// medium 50-79, low < 50.
func Bucket(score float64) model.ConfidenceBucket {
	switch {
	case score >= 80:
		return model.ConfidenceHigh
	case score >= 50:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func coverageFactor(n int) float64 {
	c := float64(n) / fullCoveragePoints * 100
	if c > 100 {
		c = 100
	}
	return c
}

func recencyFactor(points []model.NormalizedPoint, now time.Time) float64 {
	if len(points) == 0 {
		return 0
	}
	last := points[0].Date
	for _, p := range points[1:] {
		if p.Date.After(last) {
			last = p.Date
		}
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	r := 100 - (days/30)*50
	if r < 0 {
		r = 0
	}
	return r
}

func outlierFreenessFactor(points []model.NormalizedPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	flagged := 0
	for i := range points {
		if len(points[i].Flags) > 0 {
			flagged++
		}
	}
	pct := float64(flagged) / float64(len(points)) * 100
	f := 100 - 2*pct
	if f < 0 {
		f = 0
	}
	return f
}
