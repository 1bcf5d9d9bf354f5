package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func rawPoint(id, item string, date time.Time, value float64, unit string) model.RawPoint {
	return model.RawPoint{
		ID:       id,
		ItemID:   item,
		Date:     date,
		Region:   "us-national",
		Value:    value,
		Unit:     unit,
		SourceID: "fred",
	}
}

func newTestValidator() *Validator {
	return NewValidator(registry.DefaultItemCatalog())
}

func hasFlag(flags []model.QAFlag, t model.FlagType) bool {
	for _, f := range flags {
		if f.Type == t {
			return true
		}
	}
	return false
}

func TestValidate_CleanBatchPasses(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 3.00, "usd/gallon"),
		rawPoint("p2", "gasoline-gallon", month(2024, 2), 3.05, "usd/gallon"),
	}

	res := v.Validate(raw, 2)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Stats.Valid)
	assert.Equal(t, 100.0, res.Stats.CoveragePercent)
}

func TestValidate_NegativeValueIsError(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), -1.50, "usd/gallon"),
	}

	res := v.Validate(raw, 1)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.FlagNegativeValue, res.Errors[0].Type)
	assert.Equal(t, model.SeverityError, res.Errors[0].Severity)
}

func TestValidate_MissingFieldsAreSchemaErrors(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		{ID: "", ItemID: "gasoline-gallon", Date: month(2024, 1), Value: 3},
		{ID: "p2", ItemID: "", Date: month(2024, 2), Value: 3},
		{ID: "p3", ItemID: "gasoline-gallon", Value: 3},
	}

	res := v.Validate(raw, 3)
	assert.False(t, res.Passed)
	assert.Len(t, res.Errors, 3)
	for _, f := range res.Errors {
		assert.Equal(t, model.FlagSchemaError, f.Type)
	}
	assert.Equal(t, 0, res.Stats.Valid)
}

func TestValidate_UnitMismatchIsWarning(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 3.00, "eur/liter"),
	}

	res := v.Validate(raw, 1)
	assert.True(t, res.Passed, "warnings must not block")
	assert.True(t, hasFlag(res.Warnings, model.FlagUnitMismatch))
}

func TestValidate_AcceptableAlternateUnitNotFlagged(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 300, "usd-cents/gallon"),
	}

	res := v.Validate(raw, 1)
	assert.False(t, hasFlag(res.Warnings, model.FlagUnitMismatch))
}

func TestValidate_SuddenJump(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 3.00, "usd/gallon"),
		rawPoint("p2", "gasoline-gallon", month(2024, 2), 3.05, "usd/gallon"),
		rawPoint("p3", "gasoline-gallon", month(2024, 3), 5.00, "usd/gallon"),
	}

	res := v.Validate(raw, 3)
	assert.True(t, res.Passed)
	require.True(t, hasFlag(res.Warnings, model.FlagSuddenJump))
	for _, f := range res.Warnings {
		if f.Type == model.FlagSuddenJump {
			assert.Equal(t, month(2024, 3), f.Date)
		}
	}
}

func TestValidate_FiftyPercentExactIsNotAJump(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "gasoline-gallon", month(2024, 1), 2.00, "usd/gallon"),
		rawPoint("p2", "gasoline-gallon", month(2024, 2), 3.00, "usd/gallon"),
	}

	res := v.Validate(raw, 2)
	assert.False(t, hasFlag(res.Warnings, model.FlagSuddenJump))
}

func TestValidate_DuplicateOnLaterOccurrence(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "eggs-dozen", month(2024, 1), 2.50, "usd/dozen"),
		rawPoint("p2", "eggs-dozen", month(2024, 1), 2.55, "usd/dozen"),
	}

	res := v.Validate(raw, 1)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.FlagDuplicate, res.Errors[0].Type)
	assert.Equal(t, 1, res.Stats.Valid, "only the later occurrence is flagged")
}

func TestValidate_MissingInterval(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "milk-gallon", month(2024, 1), 3.80, "usd/gallon"),
		rawPoint("p2", "milk-gallon", month(2024, 4), 3.90, "usd/gallon"),
	}

	res := v.Validate(raw, 4)
	assert.True(t, res.Passed)
	assert.True(t, hasFlag(res.Warnings, model.FlagMissingInterval))
}

func TestValidate_CoverageCapped(t *testing.T) {
	v := newTestValidator()
	raw := []model.RawPoint{
		rawPoint("p1", "milk-gallon", month(2024, 1), 3.80, "usd/gallon"),
		rawPoint("p2", "milk-gallon", month(2024, 2), 3.82, "usd/gallon"),
		rawPoint("p3", "milk-gallon", month(2024, 3), 3.85, "usd/gallon"),
	}

	res := v.Validate(raw, 2)
	assert.Equal(t, 100.0, res.Stats.CoveragePercent)
}
