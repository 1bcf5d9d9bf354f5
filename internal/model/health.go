package model

import "time"

// ConnectorStatus is the coarse health of a connector.
type ConnectorStatus string

const (
	StatusHealthy  ConnectorStatus = "healthy"
	StatusDegraded ConnectorStatus = "degraded"
	StatusOffline  ConnectorStatus = "offline"
)

// BreakerState mirrors the three circuit breaker states for persistence
// and the API surface.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half-open"
	BreakerOpen     BreakerState = "open"
)

// HealthStatus is the per-connector rolling health record. One per
// connector, created at registry bootstrap, mutated by every fetch attempt,
// never deleted.
type HealthStatus struct {
	ConnectorID         string          `json:"connector_id"`
	Status              ConnectorStatus `json:"status"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	Uptime24h           float64         `json:"uptime_24h"`
	Uptime7d            float64         `json:"uptime_7d"`
	AvgResponseTime     time.Duration   `json:"avg_response_time"`
	RequestCount24h     int             `json:"request_count_24h"`
	ErrorCount24h       int             `json:"error_count_24h"`
	CircuitBreakerState BreakerState    `json:"circuit_breaker_state"`
	LastSuccessfulFetch *time.Time      `json:"last_successful_fetch,omitempty"`
	LastFailedFetch     *time.Time      `json:"last_failed_fetch,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ScorecardPeriod names the lookback window of a quality scorecard.
type ScorecardPeriod string

const (
	Period24h ScorecardPeriod = "24h"
	Period7d  ScorecardPeriod = "7d"
	Period30d ScorecardPeriod = "30d"
)

// Duration converts the period to a lookback duration.
func (p ScorecardPeriod) Duration() time.Duration {
	switch p {
	case Period7d:
		return 7 * 24 * time.Hour
	case Period30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// QualityScorecard is an on-demand weighted quality summary for one source
// over a window, with human-readable recommendations when thresholds are
// breached.
type QualityScorecard struct {
	SourceID        string          `json:"source_id"`
	Period          ScorecardPeriod `json:"period"`
	Availability    float64         `json:"availability"`
	Freshness       float64         `json:"freshness"`
	Accuracy        float64         `json:"accuracy"`
	Completeness    float64         `json:"completeness"`
	Consistency     float64         `json:"consistency"`
	Overall         float64         `json:"overall"`
	Recommendations []string        `json:"recommendations,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
