package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Represents a semi-stable identifier for a physical device. One fingerprint
// may accumulate many associated user ids over its lifetime, which is the
// signal account-sharing detection works from.
type DeviceFingerprint struct {
	Fingerprint       string         `gorm:"primaryKey" json:"fingerprint"`
	FirstSeen         time.Time      `json:"first_seen"`
	LastSeen          time.Time      `gorm:"index" json:"last_seen"`
	AssociatedUserIDs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"associated_user_ids"`
	IsBlocked         bool           `gorm:"default:false" json:"is_blocked"`
}

func (DeviceFingerprint) TableName() string {
	return "device_fingerprints"
}

// Decodes the associated user id list from its JSON column.
func (d *DeviceFingerprint) UserIDs() []string {
	var ids []string
	if len(d.AssociatedUserIDs) == 0 {
		return ids
	}
	json.Unmarshal(d.AssociatedUserIDs, &ids)
	return ids
}

// Appends a user id if it is not already present. Returns true when the
// list changed.
func (d *DeviceFingerprint) AddUserID(userID string) bool {
	if userID == "" {
		return false
	}
	ids := d.UserIDs()
	for _, id := range ids {
		if id == userID {
			return false
		}
	}
	ids = append(ids, userID)
	encoded, err := json.Marshal(ids)
	if err != nil {
		return false
	}
	d.AssociatedUserIDs = datatypes.JSON(encoded)
	return true
}
