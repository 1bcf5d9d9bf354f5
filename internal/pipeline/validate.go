// Package pipeline validates raw provider points and normalizes them into
// standard units with quality flags and confidence scores. Raw points are
// never mutated; every issue ends up as a QAFlag on the result.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

// suddenJumpThreshold is the relative month-over-month change that flags a
// sudden jump.
const suddenJumpThreshold = 0.50

// Validator applies the schema and semantic rules to a fetch batch.
type Validator struct {
	items   *registry.ItemCatalog
	nowFunc func() time.Time
}

// NewValidator creates a validator against the given item catalog.
func NewValidator(items *registry.ItemCatalog) *Validator {
	return &Validator{items: items, nowFunc: time.Now}
}

// SetClock injects a time source for deterministic tests.
func (v *Validator) SetClock(now func() time.Time) { v.nowFunc = now }

// Validate checks a batch of raw points. expectedMonths sizes the coverage
// stat; pass 0 when the request range is unknown. Passed is true iff there
// are zero error-level flags.
func (v *Validator) Validate(raw []model.RawPoint, expectedMonths int) model.ValidationResult {
	now := v.nowFunc().UTC()
	var errs, warns []model.QAFlag

	flag := func(t model.FlagType, sev model.FlagSeverity, p *model.RawPoint, format string, args ...any) {
		f := model.QAFlag{
			Type:       t,
			Severity:   sev,
			Message:    fmt.Sprintf(format, args...),
			ItemID:     p.ItemID,
			Date:       p.Date,
			DetectedAt: now,
		}
		if sev == model.SeverityError {
			errs = append(errs, f)
		} else {
			warns = append(warns, f)
		}
	}

	// Per-point rules.
	seen := make(map[model.PointKey]bool, len(raw))
	flaggedPoints := make(map[string]bool)
	errorPoints := make(map[string]bool)
	for i := range raw {
		p := &raw[i]

		if p.ID == "" || p.ItemID == "" || p.Date.IsZero() {
			flag(model.FlagSchemaError, model.SeverityError, p,
				"point %s missing required field (id/item/date)", p.ID)
			flaggedPoints[p.ID] = true
			errorPoints[p.ID] = true
			continue
		}

		if p.Value < 0 {
			flag(model.FlagNegativeValue, model.SeverityError, p,
				"%s %s: negative value %.4f", p.ItemID, p.Date.Format("2006-01"), p.Value)
			flaggedPoints[p.ID] = true
			errorPoints[p.ID] = true
		}

		if item, ok := v.items.Item(p.ItemID); ok && p.Unit != "" && !item.AcceptsUnit(p.Unit) {
			flag(model.FlagUnitMismatch, model.SeverityWarning, p,
				"%s %s: unit %q is not standard %q or a known alternate",
				p.ItemID, p.Date.Format("2006-01"), p.Unit, item.StandardUnit)
			flaggedPoints[p.ID] = true
		}

		key := p.Key()
		if seen[key] {
			flag(model.FlagDuplicate, model.SeverityError, p,
				"duplicate observation for %s %s %s", p.ItemID, p.Date.Format("2006-01"), p.Region)
			flaggedPoints[p.ID] = true
			errorPoints[p.ID] = true
		}
		seen[key] = true
	}

	// Pairwise rules across consecutive same-item points sorted by date.
	byItem := make(map[string][]*model.RawPoint)
	for i := range raw {
		p := &raw[i]
		if p.ItemID == "" || p.Date.IsZero() {
			continue
		}
		byItem[p.ItemID] = append(byItem[p.ItemID], p)
	}
	for _, series := range byItem {
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]

			if prev.Value > 0 {
				delta := (cur.Value - prev.Value) / prev.Value
				if delta < 0 {
					delta = -delta
				}
				if delta > suddenJumpThreshold {
					flag(model.FlagSuddenJump, model.SeverityWarning, cur,
						"%s %s: value changed %.1f%% from previous month",
						cur.ItemID, cur.Date.Format("2006-01"), delta*100)
					flaggedPoints[cur.ID] = true
				}
			}

			if gap := monthsBetween(prev.Date, cur.Date); gap > 1 {
				flag(model.FlagMissingInterval, model.SeverityWarning, cur,
					"%s: %d month(s) missing before %s",
					cur.ItemID, gap-1, cur.Date.Format("2006-01"))
			}
		}
	}

	coverage := 0.0
	if expectedMonths > 0 {
		coverage = float64(len(raw)) / float64(expectedMonths) * 100
		if coverage > 100 {
			coverage = 100
		}
	}

	valid := 0
	for i := range raw {
		if !errorPoints[raw[i].ID] {
			valid++
		}
	}

	return model.ValidationResult{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
		Stats: model.ValidationStats{
			Total:           len(raw),
			Valid:           valid,
			Flagged:         len(flaggedPoints),
			CoveragePercent: coverage,
		},
	}
}

// monthsBetween counts whole months from a to b at monthly granularity.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
