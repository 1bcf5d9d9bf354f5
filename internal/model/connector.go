// Package model defines the core domain types for the acquisition pipeline.
package model

import "time"

// ProviderKind identifies the payload format / transport a connector speaks.
// Adding a provider means adding a kind and a fetcher implementation, not
// editing a dispatcher.
type ProviderKind string

const (
	ProviderJSON      ProviderKind = "json"
	ProviderCSV       ProviderKind = "csv"
	ProviderXLSX      ProviderKind = "xlsx"
	ProviderXML       ProviderKind = "xml"
	ProviderFTPCSV    ProviderKind = "ftp-csv"
	ProviderSynthetic ProviderKind = "synthetic"
)

// ProviderTier ranks provider trustworthiness for confidence scoring.
type ProviderTier int

const (
	Tier1 ProviderTier = 1
	Tier2 ProviderTier = 2
	Tier3 ProviderTier = 3
)

// RetryPolicy holds per-connector failure-handling knobs.
type RetryPolicy struct {
	MaxRetries              int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff             time.Duration `json:"base_backoff" yaml:"base_backoff"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
}

// RateLimit caps request admission per connector.
type RateLimit struct {
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	PerHour   int `json:"per_hour" yaml:"per_hour"`
}

// Connector is a configured integration point for one external data provider.
// Immutable after registration; only Enabled may be toggled.
type Connector struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	Kind           ProviderKind `json:"kind" yaml:"kind"`
	SourceID       string       `json:"source_id" yaml:"source_id"`
	Enabled        bool         `json:"enabled" yaml:"enabled"`
	FeatureFlag    string       `json:"feature_flag,omitempty" yaml:"feature_flag,omitempty"`
	Tier           ProviderTier `json:"tier" yaml:"tier"`
	BaseURL        string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Retry          RetryPolicy  `json:"retry" yaml:"retry"`
	RateLimit      RateLimit    `json:"rate_limit" yaml:"rate_limit"`
	AllowedDomains []string     `json:"allowed_domains" yaml:"allowed_domains"`
	Items          []string     `json:"items" yaml:"items"`
}

// Advertises reports whether the connector's source carries the given item.
func (c *Connector) Advertises(itemID string) bool {
	for _, id := range c.Items {
		if id == itemID {
			return true
		}
	}
	return false
}

// DomainAllowed reports whether host is in the connector's allowlist.
func (c *Connector) DomainAllowed(host string) bool {
	for _, d := range c.AllowedDomains {
		if d == host {
			return true
		}
	}
	return false
}

// MinSpacing is the minimum inter-call spacing implied by the per-minute
// budget. Calls over budget queue for this long rather than being rejected.
func (r RateLimit) MinSpacing() time.Duration {
	if r.PerMinute <= 0 {
		return 0
	}
	return time.Duration(60000/r.PerMinute) * time.Millisecond
}

// FetchRequest asks for one item's series in a region over a date range.
// Pure value, no identity.
type FetchRequest struct {
	Region string    `json:"region"`
	ItemID string    `json:"item_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// ExpectedMonths is the number of monthly observations the range should
// contain, used for coverage computation.
func (r FetchRequest) ExpectedMonths() int {
	if r.End.Before(r.Start) {
		return 0
	}
	months := (r.End.Year()-r.Start.Year())*12 + int(r.End.Month()) - int(r.Start.Month()) + 1
	if months < 1 {
		months = 1
	}
	return months
}

// FetchMetadata describes how a fetch went, independent of the points.
type FetchMetadata struct {
	ConnectorID     string         `json:"connector_id"`
	SourceID        string         `json:"source_id"`
	CoveragePercent float64        `json:"coverage_percent"`
	Synthetic       bool           `json:"synthetic"`
	Stale           bool           `json:"stale"`
	Duration        time.Duration  `json:"duration"`
	Errors          []string       `json:"errors,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Revisions       []RevisionDiff `json:"revisions,omitempty"`
	FetchedAt       time.Time      `json:"fetched_at"`
}

// FetchResponse carries raw, immutable points plus fetch metadata.
type FetchResponse struct {
	RawPoints []RawPoint    `json:"raw_points"`
	Metadata  FetchMetadata `json:"metadata"`
}

// CallRecord is one entry in the capped per-connector call log.
type CallRecord struct {
	ID          string        `json:"id"`
	ConnectorID string        `json:"connector_id"`
	Kind        string        `json:"kind"` // "fetch" or "probe"
	OK          bool          `json:"ok"`
	Duration    time.Duration `json:"duration"`
	Coverage    float64       `json:"coverage,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}
