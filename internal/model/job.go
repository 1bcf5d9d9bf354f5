package model

import "time"

// JobStatus is the lifecycle state of a remediation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether the status counts against the
// at-most-one-active-job-per-connector invariant.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// RemediationReason records why a job was created.
type RemediationReason string

const (
	ReasonCircuitOpen         RemediationReason = "circuit-breaker-open"
	ReasonHighErrorRate       RemediationReason = "high-error-rate"
	ReasonConsecutiveFailures RemediationReason = "consecutive-failures"
	ReasonManualTrigger       RemediationReason = "manual-trigger"
)

// RetryAttempt is one probe within a remediation job.
type RetryAttempt struct {
	AttemptNumber int           `json:"attempt_number"`
	Timestamp     time.Time     `json:"timestamp"`
	Delay         time.Duration `json:"delay"`
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ResponseTime  time.Duration `json:"response_time"`
}

// RemediationJob is a bounded, observable retry workflow aimed at restoring
// a failed connector.
type RemediationJob struct {
	ID             string            `json:"id"`
	ConnectorID    string            `json:"connector_id"`
	SourceID       string            `json:"source_id"`
	Status         JobStatus         `json:"status"`
	Reason         RemediationReason `json:"reason"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Attempts       []RetryAttempt    `json:"attempts,omitempty"`
	CurrentBackoff time.Duration     `json:"current_backoff"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	TotalDuration  *time.Duration    `json:"total_duration,omitempty"`
}

// RemediationConfig is the global remediation tuning surface.
type RemediationConfig struct {
	Enabled                     bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxRetries                  int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoff              time.Duration `json:"initial_backoff" yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff                  time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier                  float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	JitterEnabled               bool          `json:"jitter_enabled" yaml:"jitter_enabled" mapstructure:"jitter_enabled"`
	JitterMax                   time.Duration `json:"jitter_max" yaml:"jitter_max" mapstructure:"jitter_max"`
	CircuitBreakerAutoRetry     bool          `json:"circuit_breaker_auto_retry" yaml:"circuit_breaker_auto_retry" mapstructure:"circuit_breaker_auto_retry"`
	CircuitBreakerRetryInterval time.Duration `json:"circuit_breaker_retry_interval" yaml:"circuit_breaker_retry_interval" mapstructure:"circuit_breaker_retry_interval"`
	NotificationsEnabled        bool          `json:"notifications_enabled" yaml:"notifications_enabled" mapstructure:"notifications_enabled"`
}

// DefaultRemediationConfig returns the documented defaults.
func DefaultRemediationConfig() RemediationConfig {
	return RemediationConfig{
		Enabled:                     true,
		MaxRetries:                  5,
		InitialBackoff:              1000 * time.Millisecond,
		MaxBackoff:                  60000 * time.Millisecond,
		Multiplier:                  2.0,
		JitterEnabled:               true,
		JitterMax:                   500 * time.Millisecond,
		CircuitBreakerAutoRetry:     true,
		CircuitBreakerRetryInterval: 5 * time.Minute,
		NotificationsEnabled:        true,
	}
}
