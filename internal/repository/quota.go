package repository

import (
	"context"
	"time"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuotaRepository struct {
	db *storage.Postgres
}

func NewQuotaRepository(db *storage.Postgres) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func (r *QuotaRepository) Find(ctx context.Context, subjectKey string) (*models.QuotaLedgerEntry, error) {
	var entry models.QuotaLedgerEntry
	err := r.db.DB.WithContext(ctx).
		Where("subject_key = ?", subjectKey).
		First(&entry).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &entry, err
}

// Creates the entry with its starting allowance if it does not exist yet.
// Concurrent initializations collapse to the first insert; the re-fetch
// returns whichever row won.
func (r *QuotaRepository) Init(ctx context.Context, subjectKey string, allowance int) (*models.QuotaLedgerEntry, error) {
	entry := models.QuotaLedgerEntry{
		SubjectKey: subjectKey,
		Allowance:  allowance,
	}

	err := r.db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_key"}},
		DoNothing: true,
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}

	return r.Find(ctx, subjectKey)
}

// Atomically charges one scan against the subject. The upsert creates the
// row with a count of 1 on first consume; on conflict the count moves by
// one inside the database, so concurrent consumes cannot lose updates. The
// struct passed to Create is not updated on the conflict path, hence the
// re-fetch.
func (r *QuotaRepository) Consume(ctx context.Context, subjectKey string, allowance int) (*models.QuotaLedgerEntry, error) {
	now := time.Now()
	entry := models.QuotaLedgerEntry{
		SubjectKey: subjectKey,
		Allowance:  allowance,
		ScanCount:  1,
		LastScanAt: &now,
	}

	err := r.db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"scan_count":   gorm.Expr("scan_count + 1"),
			"last_scan_at": now,
		}),
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}

	return r.Find(ctx, subjectKey)
}

func (r *QuotaRepository) SetBlocked(ctx context.Context, subjectKey string, blocked bool) error {
	entry := models.QuotaLedgerEntry{
		SubjectKey: subjectKey,
		IsBlocked:  blocked,
	}

	return r.db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"is_blocked": blocked}),
	}).Create(&entry).Error
}
