package pipeline

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

// Version is the current pipeline version stamped on normalized points.
// Bumping it and re-running normalization produces new points; prior
// versions stay intact.
const Version = 1

// NormalizeOutput is the result of one normalization run.
type NormalizeOutput struct {
	Points      []model.NormalizedPoint `json:"points"`
	Validation  model.ValidationResult  `json:"validation"`
	ProcessedAt time.Time               `json:"processed_at"`
	Version     int                     `json:"version"`
}

// Normalizer converts validated raw points into normalized points.
type Normalizer struct {
	items       *registry.ItemCatalog
	aggregation model.AggregationMethod
	nowFunc     func() time.Time
	idFunc      func() string
}

// NewNormalizer creates a normalizer with end-of-period aggregation.
func NewNormalizer(items *registry.ItemCatalog) *Normalizer {
	return &Normalizer{
		items:       items,
		aggregation: model.AggEndOfPeriod,
		nowFunc:     time.Now,
		idFunc:      func() string { return uuid.New().String() },
	}
}

// SetAggregation overrides the default end-of-period method.
func (n *Normalizer) SetAggregation(m model.AggregationMethod) { n.aggregation = m }

// SetClock injects a time source for deterministic tests.
func (n *Normalizer) SetClock(now func() time.Time) { n.nowFunc = now }

// Normalize converts the surviving raw points to the item's standard unit
// and attaches matching QA flags. Points with error-level flags are blocked;
// points with no conversion path to the standard unit are dropped, not
// guessed. The outlier pass runs after conversion and can force confidence
// down to low.
func (n *Normalizer) Normalize(raw []model.RawPoint, vr model.ValidationResult) NormalizeOutput {
	out := NormalizeOutput{
		Validation:  vr,
		ProcessedAt: n.nowFunc().UTC(),
		Version:     Version,
	}

	for i := range raw {
		p := &raw[i]

		pErrors := flagsFor(vr.Errors, p)
		pWarnings := flagsFor(vr.Warnings, p)
		if len(pErrors) > 0 {
			// Data-quality errors block the point; the flags stay on the
			// validation result.
			continue
		}

		item, ok := n.items.Item(p.ItemID)
		if !ok {
			zap.L().Warn("pipeline: dropping point for unknown item",
				zap.String("item", p.ItemID),
				zap.String("point", p.ID),
			)
			continue
		}
		factor, ok := item.ConversionFactor(p.Unit)
		if !ok {
			zap.L().Warn("pipeline: dropping point with no conversion path",
				zap.String("item", p.ItemID),
				zap.String("unit", p.Unit),
				zap.String("standard", item.StandardUnit),
			)
			continue
		}

		np := model.NormalizedPoint{
			ID:          n.idFunc(),
			RawPointID:  p.ID,
			ItemID:      p.ItemID,
			Date:        p.Date,
			Region:      p.Region,
			Value:       p.Value * factor,
			Unit:        item.StandardUnit,
			Frequency:   model.FrequencyMonthly,
			Aggregation: n.aggregation,
			Flags:       pWarnings,
			Version:     Version,
		}
		np.Confidence = pointConfidence(pErrors, pWarnings)
		out.Points = append(out.Points, np)
	}

	FlagOutliers(out.Points, n.nowFunc().UTC())
	return out
}

// pointConfidence is the point-level rule prior to the outlier pass: low if
// any error flag, medium if any warning, high otherwise.
func pointConfidence(errs, warns []model.QAFlag) model.ConfidenceBucket {
	switch {
	case len(errs) > 0:
		return model.ConfidenceLow
	case len(warns) >= 1:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceHigh
	}
}

// flagsFor selects the flags referencing a point's (item, date).
func flagsFor(flags []model.QAFlag, p *model.RawPoint) []model.QAFlag {
	var out []model.QAFlag
	for _, f := range flags {
		if f.ItemID == p.ItemID && f.Date.Equal(p.Date) {
			out = append(out, f)
		}
	}
	return out
}
