package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lumahealth/scangate/internal/models"
	"gorm.io/datatypes"
)

// QuotaStore is the persistence behind the absolute quota ledger.
type QuotaStore interface {
	Find(ctx context.Context, subjectKey string) (*models.QuotaLedgerEntry, error)
	Init(ctx context.Context, subjectKey string, allowance int) (*models.QuotaLedgerEntry, error)
	Consume(ctx context.Context, subjectKey string, allowance int) (*models.QuotaLedgerEntry, error)
	SetBlocked(ctx context.Context, subjectKey string, blocked bool) error
}

// Outcome of a ledger check. RemainingScans is -1 for tiers the ledger does
// not cap. Degraded marks the fail-open path taken when the store is
// unreachable: exactly one additional scan is granted, which bounds abuse
// exposure during an outage to a single extra request per subject.
type QuotaDecision struct {
	CanScan        bool
	RemainingScans int
	IsBlocked      bool
	Degraded       bool
}

// Enforces the lifetime scan cap. This layer is orthogonal to the rolling
// rate limiter; both must pass.
type QuotaService struct {
	store QuotaStore
	audit Auditor
}

func NewQuotaService(store QuotaStore, audit Auditor) *QuotaService {
	return &QuotaService{store: store, audit: audit}
}

// Read-only admission check. Never charges quota; consumption is a
// separate call made only after the downstream work succeeds.
func (s *QuotaService) Check(ctx context.Context, subjectKey string, allowance int) QuotaDecision {
	if allowance <= 0 {
		return QuotaDecision{CanScan: true, RemainingScans: -1}
	}

	entry, err := s.store.Find(ctx, subjectKey)
	if err != nil {
		return s.failOpen(subjectKey, err)
	}

	if entry == nil {
		entry, err = s.store.Init(ctx, subjectKey, allowance)
		if err != nil {
			return s.failOpen(subjectKey, err)
		}
	}

	if entry.IsBlocked {
		return QuotaDecision{IsBlocked: true}
	}

	// A row created by an operator block carries no allowance of its own;
	// adopt the tier's value so an unblocked subject is not treated as
	// exhausted before its first scan.
	granted := entry.Allowance
	if granted == 0 {
		granted = allowance
	}

	remaining := granted - entry.ScanCount
	if remaining < 0 {
		remaining = 0
	}

	return QuotaDecision{
		CanScan:        remaining > 0,
		RemainingScans: remaining,
	}
}

// Charges one scan after the caller's downstream work succeeded. The write
// is detached from request cancellation: aborting mid-increment would
// under-count and re-open the race the atomic upsert closes.
func (s *QuotaService) Consume(ctx context.Context, subjectKey string, allowance int) error {
	if allowance <= 0 {
		return nil
	}

	entry, err := s.store.Consume(context.WithoutCancel(ctx), subjectKey, allowance)
	if err != nil {
		log.Printf("Quota consume failed for %s: %v", subjectKey, err)
		return err
	}

	granted := 0
	if entry != nil {
		granted = entry.Allowance
		if granted == 0 {
			granted = allowance
		}
	}

	if entry != nil && entry.ScanCount >= granted {
		metadata, _ := json.Marshal(map[string]interface{}{
			"scan_count": entry.ScanCount,
			"allowance":  granted,
		})
		s.audit.Emit(&models.AuditEvent{
			Identity: subjectKey,
			Reason:   models.ReasonQuotaExhausted,
			Severity: models.SeverityMedium,
			Metadata: datatypes.JSON(metadata),
		})
	}

	return nil
}

// Fail open with a reduced allowance of exactly one scan.
func (s *QuotaService) failOpen(subjectKey string, err error) QuotaDecision {
	log.Printf("Quota store unreachable for %s, failing open with one scan: %v", subjectKey, err)

	return QuotaDecision{
		CanScan:        true,
		RemainingScans: 1,
		Degraded:       true,
	}
}
