package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/econfeed/internal/model"
)

const (
	// madScale rescales the MAD to be consistent with the standard
	// deviation under normality.
	madScale = 1.4826

	// robustZThreshold flags a point as an outlier.
	robustZThreshold = 3.5

	// minSeriesForOutliers is the smallest series the estimator runs on.
	minSeriesForOutliers = 5
)

// FlagOutliers runs the robust outlier pass over normalized points, grouped
// per item series. A flagged point gets a warning-level outlier flag and its
// confidence forced to low. The median/MAD estimator is used instead of the
// standard deviation because it stays stable in the presence of the very
// outliers it is detecting.
func FlagOutliers(points []model.NormalizedPoint, detectedAt time.Time) {
	byItem := make(map[string][]int)
	for i := range points {
		byItem[points[i].ItemID] = append(byItem[points[i].ItemID], i)
	}

	for _, idxs := range byItem {
		if len(idxs) < minSeriesForOutliers {
			continue
		}

		values := make([]float64, len(idxs))
		for i, idx := range idxs {
			values[i] = points[idx].Value
		}
		med := median(values)

		deviations := make([]float64, len(values))
		for i, v := range values {
			deviations[i] = abs(v - med)
		}
		mad := median(deviations)
		if mad == 0 {
			// A degenerate series (over half the values identical) has no
			// usable spread estimate.
			continue
		}

		for i, idx := range idxs {
			z := deviations[i] / (madScale * mad)
			if z <= robustZThreshold {
				continue
			}
			p := &points[idx]
			p.Flags = append(p.Flags, model.QAFlag{
				Type:     model.FlagOutlier,
				Severity: model.SeverityWarning,
				Message: fmt.Sprintf("%s %s: robust z-score %.2f exceeds %.1f",
					p.ItemID, p.Date.Format("2006-01"), z, robustZThreshold),
				ItemID:     p.ItemID,
				Date:       p.Date,
				DetectedAt: detectedAt,
			})
			p.Confidence = model.ConfidenceLow
		}
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
