package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/store"
)

// Scorecard factor weights. Availability and accuracy dominate; the rest
// fills in the remaining 45%.
const (
	weightAvailability = 0.30
	weightFreshness    = 0.15
	weightAccuracy     = 0.25
	weightCompleteness = 0.20
	weightConsistency  = 0.10
)

// Recommendation thresholds.
const (
	minAvailabilityPct = 95.0
	slowResponse       = 3 * time.Second
	maxErrorCount      = 10
)

// ScorecardBuilder derives quality scorecards for a source over a lookback
// window from the call log and the connector's health record.
type ScorecardBuilder struct {
	tracker *Tracker
	store   store.Store

	nowFunc func() time.Time
}

// NewScorecardBuilder creates a builder over the given tracker and store.
func NewScorecardBuilder(tracker *Tracker, st store.Store) *ScorecardBuilder {
	return &ScorecardBuilder{tracker: tracker, store: st, nowFunc: time.Now}
}

// SetClock injects a time source for deterministic tests.
func (b *ScorecardBuilder) SetClock(now func() time.Time) { b.nowFunc = now }

// Build computes the weighted scorecard for one connector over the period.
// Connectors with no calls in the window score conservatively rather than
// perfectly.
func (b *ScorecardBuilder) Build(ctx context.Context, connectorID string, period model.ScorecardPeriod) (*model.QualityScorecard, error) {
	now := b.nowFunc().UTC()
	since := now.Add(-period.Duration())

	records, err := b.store.ListCallRecords(ctx, connectorID, since)
	if err != nil {
		return nil, err
	}

	card := &model.QualityScorecard{
		SourceID:    connectorID,
		Period:      period,
		GeneratedAt: now,
	}

	var (
		total, okCount, errCount int
		covSum                   float64
		covCount                 int
		lastOK                   time.Time
		totalDur                 time.Duration
	)
	for _, r := range records {
		total++
		totalDur += r.Duration
		if r.OK {
			okCount++
			if r.At.After(lastOK) {
				lastOK = r.At
			}
			if r.Coverage > 0 {
				covSum += r.Coverage
				covCount++
			}
		} else {
			errCount++
		}
	}

	if total == 0 {
		// No activity in the window: nothing to score against, so all
		// factors land mid-scale and a recommendation points it out.
		card.Availability = 50
		card.Freshness = 0
		card.Accuracy = 50
		card.Completeness = 50
		card.Consistency = 50
		card.Recommendations = append(card.Recommendations,
			fmt.Sprintf("No calls recorded for %s in the last %s; verify the connector is scheduled.", connectorID, period))
	} else {
		card.Availability = float64(okCount) / float64(total) * 100
		card.Freshness = freshness(lastOK, now, period)
		card.Accuracy = accuracy(records)
		card.Completeness = completeness(covSum, covCount)
		card.Consistency = consistency(records, totalDur/time.Duration(total))
	}

	card.Overall = weightAvailability*card.Availability +
		weightFreshness*card.Freshness +
		weightAccuracy*card.Accuracy +
		weightCompleteness*card.Completeness +
		weightConsistency*card.Consistency

	b.recommend(card, errCount, total, totalDur)
	return card, nil
}

// freshness scores 100 for a success at the window's trailing edge and
// decays linearly to 0 for no success in the window at all.
func freshness(lastOK, now time.Time, period model.ScorecardPeriod) float64 {
	if lastOK.IsZero() {
		return 0
	}
	age := now.Sub(lastOK)
	window := period.Duration()
	if age >= window {
		return 0
	}
	return (1 - float64(age)/float64(window)) * 100
}

// accuracy penalizes failed calls twice as hard as availability does: a
// failed fetch means the served series fell back to stale or synthetic data.
func accuracy(records []model.CallRecord) float64 {
	var total, failed int
	for _, r := range records {
		total++
		if !r.OK {
			failed++
		}
	}
	if total == 0 {
		return 50
	}
	score := 100 - float64(failed)/float64(total)*200
	if score < 0 {
		return 0
	}
	return score
}

// completeness averages the coverage reported by successful fetches.
func completeness(covSum float64, covCount int) float64 {
	if covCount == 0 {
		return 50
	}
	return covSum / float64(covCount)
}

// consistency measures response time stability: the further individual call
// durations stray from the mean, the lower the score.
func consistency(records []model.CallRecord, mean time.Duration) float64 {
	if len(records) < 2 || mean <= 0 {
		return 100
	}
	var devSum float64
	for _, r := range records {
		d := float64(r.Duration - mean)
		if d < 0 {
			d = -d
		}
		devSum += d
	}
	avgDev := devSum / float64(len(records))
	ratio := avgDev / float64(mean)
	score := 100 - ratio*100
	if score < 0 {
		return 0
	}
	return score
}

func (b *ScorecardBuilder) recommend(card *model.QualityScorecard, errCount, total int, totalDur time.Duration) {
	if total > 0 && card.Availability < minAvailabilityPct {
		card.Recommendations = append(card.Recommendations,
			fmt.Sprintf("Availability %.1f%% is below %.0f%%; review recent failures and consider remediation settings.", card.Availability, minAvailabilityPct))
	}
	if total > 0 {
		avg := totalDur / time.Duration(total)
		if avg > slowResponse {
			card.Recommendations = append(card.Recommendations,
				fmt.Sprintf("Average response time %s exceeds %s; the provider may be throttling.", avg.Round(time.Millisecond), slowResponse))
		}
	}
	if errCount > maxErrorCount {
		card.Recommendations = append(card.Recommendations,
			fmt.Sprintf("%d errors in the window; inspect the call log for recurring failure patterns.", errCount))
	}
}
