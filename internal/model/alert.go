package model

import "time"

// AlertLevel ranks a monitoring alert.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
	AlertInfo     AlertLevel = "info"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertCircuitOpen     AlertType = "circuit-breaker-open"
	AlertHighErrorRate   AlertType = "high-error-rate"
	AlertSlowResponses   AlertType = "slow-responses"
	AlertRemediationFail AlertType = "remediation-failed"
	AlertRemediationOK   AlertType = "remediation-succeeded"
	AlertDataQuality     AlertType = "data-quality"
)

// MonitoringAlert is created when a health transition crosses a threshold.
// Deduplicated per (connector, type) while unresolved.
type MonitoringAlert struct {
	ID             string     `json:"id"`
	Level          AlertLevel `json:"level"`
	Type           AlertType  `json:"type"`
	ConnectorID    string     `json:"connector_id"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ActionItems    []string   `json:"action_items,omitempty"`
	AffectedItems  []string   `json:"affected_items,omitempty"`
	ImpactEstimate string     `json:"impact_estimate,omitempty"`
}

// Resolved reports whether the alert has been resolved.
func (a *MonitoringAlert) Resolved() bool {
	return a.ResolvedAt != nil
}
