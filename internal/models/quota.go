package models

import "time"

// Tracks the absolute, non-resetting scan cap for a device fingerprint or
// a user id. SubjectKey is whichever of the two the entry is tracked
// against; the two are never combined. Allowance is fixed when the entry is
// first created, so a device that exhausted its guest scans stays exhausted
// even when a fresh account authenticates from it.
type QuotaLedgerEntry struct {
	SubjectKey string     `gorm:"primaryKey" json:"subject_key"`
	Allowance  int        `gorm:"default:0" json:"allowance"`
	ScanCount  int        `gorm:"default:0" json:"scan_count"`
	IsBlocked  bool       `gorm:"default:false" json:"is_blocked"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (QuotaLedgerEntry) TableName() string {
	return "quota_ledger"
}
