package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Reason codes reported to callers and recorded on audit events.
const (
	ReasonSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	ReasonRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ReasonQuotaExhausted     = "QUOTA_EXHAUSTED"
	ReasonDeviceBlocked      = "DEVICE_BLOCKED"
)

// Append-only record of a deny decision, abuse flag, or ledger mutation of
// interest. Rows are never updated or deleted by this service.
type AuditEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Identity      string         `gorm:"index" json:"identity"`
	Reason        string         `gorm:"index" json:"reason"`
	Severity      string         `json:"severity"`
	Authenticated bool           `json:"authenticated"`
	Metadata      datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
