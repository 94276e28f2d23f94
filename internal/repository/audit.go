package repository

import (
	"context"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/storage"
)

type AuditRepository struct {
	db *storage.Postgres
}

func NewAuditRepository(db *storage.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

// Inserts multiple events (for batch insertion)
func (r *AuditRepository) CreateBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}
