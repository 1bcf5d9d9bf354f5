package model

import "time"

// FlagType enumerates the data-quality issues the pipeline can detect.
type FlagType string

const (
	FlagSchemaError     FlagType = "schema-error"
	FlagUnitMismatch    FlagType = "unit-mismatch"
	FlagNegativeValue   FlagType = "negative-value"
	FlagOutlier         FlagType = "outlier"
	FlagSuddenJump      FlagType = "sudden-jump"
	FlagDuplicate       FlagType = "duplicate"
	FlagMissingInterval FlagType = "missing-interval"
	FlagRevision        FlagType = "revision"
	FlagInterpolated    FlagType = "interpolated"
)

// FlagSeverity ranks a QA flag.
type FlagSeverity string

const (
	SeverityError   FlagSeverity = "error"
	SeverityWarning FlagSeverity = "warning"
	SeverityInfo    FlagSeverity = "info"
)

// QAFlag is a structured note about a data-quality issue found during
// validation. Flags attach to validation results and normalized points,
// never retroactively to a RawPoint.
type QAFlag struct {
	Type       FlagType     `json:"type"`
	Severity   FlagSeverity `json:"severity"`
	Message    string       `json:"message"`
	ItemID     string       `json:"item_id,omitempty"`
	Date       time.Time    `json:"date,omitempty"`
	DetectedAt time.Time    `json:"detected_at"`
}

// RawPoint is an unmodified observation as received from a provider.
// Once stored it is never edited, only superseded by a new point with a new
// retrieval timestamp and a recorded revision diff.
type RawPoint struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	Date        time.Time `json:"date"`
	Region      string    `json:"region"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	SourceID    string    `json:"source_id"`
	RetrievedAt time.Time `json:"retrieved_at"`
	SourceURL   string    `json:"source_url,omitempty"`
	RawPayload  []byte    `json:"raw_payload,omitempty"`
	Checksum    string    `json:"checksum"`
}

// Key identifies the logical observation a RawPoint carries.
func (p *RawPoint) Key() PointKey {
	return PointKey{ItemID: p.ItemID, Date: p.Date.Format("2006-01"), Region: p.Region}
}

// PointKey is the (item, date, region) identity of an observation.
type PointKey struct {
	ItemID string
	Date   string // "2006-01"
	Region string
}

// RevisionDiff records a provider changing its mind about a stored
// observation. The superseded RawPoint stays in the store.
type RevisionDiff struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	Date       time.Time `json:"date"`
	Region     string    `json:"region"`
	OldValue   float64   `json:"old_value"`
	NewValue   float64   `json:"new_value"`
	OldPointID string    `json:"old_point_id"`
	NewPointID string    `json:"new_point_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ConfidenceBucket buckets a confidence level for a point or a series.
type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "high"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceLow    ConfidenceBucket = "low"
)

// Frequency is the observation cadence of a normalized series.
type Frequency string

const FrequencyMonthly Frequency = "monthly"

// AggregationMethod names how sub-period observations collapse into one.
type AggregationMethod string

const (
	AggEndOfPeriod AggregationMethod = "end-of-period"
	AggMean        AggregationMethod = "mean"
	AggMedian      AggregationMethod = "median"
)

// NormalizedPoint is a raw point converted to standard units/frequency with
// quality flags attached. Append-only: re-running normalization with a new
// pipeline version creates new points and leaves prior versions intact.
type NormalizedPoint struct {
	ID          string            `json:"id"`
	RawPointID  string            `json:"raw_point_id"`
	ItemID      string            `json:"item_id"`
	Date        time.Time         `json:"date"`
	Region      string            `json:"region"`
	Value       float64           `json:"value"`
	Unit        string            `json:"unit"`
	Frequency   Frequency         `json:"frequency"`
	Aggregation AggregationMethod `json:"aggregation"`
	Flags       []QAFlag          `json:"flags,omitempty"`
	Confidence  ConfidenceBucket  `json:"confidence"`
	Version     int               `json:"version"`
}

// HasFlag reports whether the point carries a flag of the given type.
func (p *NormalizedPoint) HasFlag(t FlagType) bool {
	for _, f := range p.Flags {
		if f.Type == t {
			return true
		}
	}
	return false
}

// ValidationStats summarizes a batch validation.
type ValidationStats struct {
	Total           int     `json:"total"`
	Valid           int     `json:"valid"`
	Flagged         int     `json:"flagged"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// ValidationResult is computed per fetch batch. Immutable once produced.
// Passed is true iff there are zero error-level flags; warnings do not block.
type ValidationResult struct {
	Passed   bool            `json:"passed"`
	Errors   []QAFlag        `json:"errors,omitempty"`
	Warnings []QAFlag        `json:"warnings,omitempty"`
	Stats    ValidationStats `json:"stats"`
}

// ConfidenceFactors is the weighted breakdown behind a series score, each
// factor normalized to [0,100].
type ConfidenceFactors struct {
	Coverage        float64 `json:"coverage"`
	Recency         float64 `json:"recency"`
	OutlierFreeness float64 `json:"outlier_freeness"`
	ProviderTier    float64 `json:"provider_tier"`
}

// ConfidenceScore is a 0-100 composite quality rating for a normalized
// series, recomputed whenever new normalized points are added.
type ConfidenceScore struct {
	SeriesID   string            `json:"series_id"`
	Score      float64           `json:"score"`
	Bucket     ConfidenceBucket  `json:"bucket"`
	Factors    ConfidenceFactors `json:"factors"`
	ComputedAt time.Time         `json:"computed_at"`
}
