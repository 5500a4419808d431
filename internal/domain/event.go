package domain

import (
	"time"
)

// Topic names for the dashboard event stream
const (
	TopicAccess   = "menulink.access"
	TopicOrders   = "menulink.orders"
	TopicSecurity = "menulink.security"
)

// EventType identifies a domain event on the fan-out path
type EventType string

const (
	EventMenuViewed      EventType = "menu_viewed"
	EventOrderRecorded   EventType = "order_recorded"
	EventMenuArchived    EventType = "menu_archived"
	EventMenuReactivated EventType = "menu_reactivated"
	EventMenuBurned      EventType = "menu_burned"
	EventSecurityAlert   EventType = "security_alert"
)

// Event is one item on the realtime fan-out path. Delivery is
// best-effort and at-least-once; consumers deduplicate by ID.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Topic     string         `json:"topic"`
	MenuID    string         `json:"menu_id"`
	TenantID  string         `json:"tenant_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Key returns the partition key; per-menu ordering is preserved by
// keying on menu id.
func (e *Event) Key() string {
	return e.MenuID
}

// SecurityEventType classifies entries of the append-only security log
type SecurityEventType string

const (
	SecurityVelocityBreach     SecurityEventType = "velocity_breach"
	SecurityScreenshotDetected SecurityEventType = "screenshot_detected"
	SecurityCodeBruteForce     SecurityEventType = "code_brute_force"
	SecurityDecryptionFailure  SecurityEventType = "decryption_failure"
)

// Severity levels for security events
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is one append-only record of the security log. The
// log is the source of truth for audits and dashboards; rows are
// never mutated.
type SecurityEvent struct {
	ID        string            `json:"id"`
	MenuID    string            `json:"menu_id"`
	TenantID  string            `json:"tenant_id"`
	Type      SecurityEventType `json:"type"`
	Severity  Severity          `json:"severity"`
	Payload   map[string]any    `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AccessOutcome classifies one access attempt
type AccessOutcome string

const (
	OutcomeSuccess     AccessOutcome = "success"
	OutcomeRateLimited AccessOutcome = "rate_limited"
	OutcomeBadCode     AccessOutcome = "bad_code"
	OutcomeExpired     AccessOutcome = "expired"
	OutcomeNotFound    AccessOutcome = "not_found"
)

// AccessAttempt is the ephemeral record driving the velocity window,
// keyed by (menu token, hashed source ip).
type AccessAttempt struct {
	Token     string        `json:"token"`
	IPHash    string        `json:"ip_hash"`
	Outcome   AccessOutcome `json:"outcome"`
	Timestamp time.Time     `json:"timestamp"`
}
