package repository

import (
	"context"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/storage"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *storage.Postgres
}

func NewUserRepository(db *storage.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// Retrieves user by id
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &user, err
}

// TierFor satisfies the tier resolver's profile store. An account that no
// longer exists or is deactivated resolves to free rather than erroring.
func (r *UserRepository) TierFor(ctx context.Context, userID string) (string, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}

	if user == nil || !user.IsActive {
		return "free", nil
	}

	return user.Tier, nil
}
