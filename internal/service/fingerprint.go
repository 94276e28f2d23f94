package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/repository"
	"gorm.io/datatypes"
)

// Sharing-detection thresholds. Crossing one raises an audit flag for the
// external review path; it never denies by itself.
const (
	maxUsersPerDevice = 3
	maxIPsPerUserDay  = 5
)

// Server side of the device fingerprint registry: records contacts,
// accumulates the set of accounts seen on each device, and surfaces
// account-sharing signals.
type FingerprintService struct {
	repo  *repository.FingerprintRepository
	audit Auditor
}

func NewFingerprintService(repo *repository.FingerprintRepository, audit Auditor) *FingerprintService {
	return &FingerprintService{repo: repo, audit: audit}
}

// Records one contact from a device and runs sharing detection. Called off
// the request path; errors are logged, never surfaced.
func (s *FingerprintService) Observe(ctx context.Context, fingerprint, userID, ip string) {
	now := time.Now()

	fp, err := s.repo.Upsert(ctx, fingerprint, userID, now)
	if err != nil {
		log.Printf("Fingerprint upsert failed for %s: %v", fingerprint, err)
		return
	}

	if err := s.repo.CreateSighting(ctx, &models.DeviceSighting{
		Fingerprint: fingerprint,
		UserID:      userID,
		IPAddress:   ip,
		SeenAt:      now,
	}); err != nil {
		log.Printf("Sighting insert failed for %s: %v", fingerprint, err)
	}

	if fp == nil {
		return
	}

	if users := fp.UserIDs(); len(users) > maxUsersPerDevice {
		s.flagSharing(fingerprint, "distinct_users_per_device", len(users))
	}

	if userID != "" {
		count, err := s.repo.CountDistinctIPsForUser(ctx, userID, now.Add(-24*time.Hour))
		if err == nil && count > maxIPsPerUserDay {
			s.flagSharing("user:"+userID, "distinct_ips_per_user_24h", int(count))
		}
	}
}

func (s *FingerprintService) Find(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	return s.repo.Find(ctx, fingerprint)
}

func (s *FingerprintService) SetBlocked(ctx context.Context, fingerprint string, blocked bool) error {
	return s.repo.SetBlocked(ctx, fingerprint, blocked)
}

func (s *FingerprintService) flagSharing(identityKey, signal string, observed int) {
	metadata, _ := json.Marshal(map[string]interface{}{
		"signal":   signal,
		"observed": observed,
	})
	s.audit.Emit(&models.AuditEvent{
		Identity: identityKey,
		Reason:   "ACCOUNT_SHARING_SUSPECTED",
		Severity: models.SeverityMedium,
		Metadata: datatypes.JSON(metadata),
	})
}
