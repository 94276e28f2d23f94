package repository

import (
	"context"
	"time"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FingerprintRepository struct {
	db *storage.Postgres
}

func NewFingerprintRepository(db *storage.Postgres) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

func (r *FingerprintRepository) Find(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	var fp models.DeviceFingerprint
	err := r.db.DB.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&fp).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &fp, err
}

// Records a contact from a device: creates the row on first sight,
// otherwise advances last_seen. The associated user id list is merged
// separately because it lives in a JSON column.
func (r *FingerprintRepository) Upsert(ctx context.Context, fingerprint, userID string, seenAt time.Time) (*models.DeviceFingerprint, error) {
	row := models.DeviceFingerprint{
		Fingerprint:       fingerprint,
		FirstSeen:         seenAt,
		LastSeen:          seenAt,
		AssociatedUserIDs: datatypes.JSON("[]"),
	}
	row.AddUserID(userID)

	err := r.db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_seen": seenAt}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}

	fp, err := r.Find(ctx, fingerprint)
	if err != nil || fp == nil {
		return fp, err
	}

	if userID != "" && fp.AddUserID(userID) {
		err = r.db.DB.WithContext(ctx).
			Model(&models.DeviceFingerprint{}).
			Where("fingerprint = ?", fingerprint).
			Update("associated_user_ids", fp.AssociatedUserIDs).Error
		if err != nil {
			return nil, err
		}
	}

	return fp, nil
}

func (r *FingerprintRepository) SetBlocked(ctx context.Context, fingerprint string, blocked bool) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.DeviceFingerprint{}).
		Where("fingerprint = ?", fingerprint).
		Update("is_blocked", blocked).Error
}

func (r *FingerprintRepository) CreateSighting(ctx context.Context, sighting *models.DeviceSighting) error {
	return r.db.DB.WithContext(ctx).Create(sighting).Error
}

// Counts distinct source IPs seen for a user since the given time. Feeds
// the shared-account heuristic.
func (r *FingerprintRepository) CountDistinctIPsForUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.DeviceSighting{}).
		Where("user_id = ? AND seen_at > ?", userID, since).
		Distinct("ip_address").
		Count(&count).Error

	return count, err
}
