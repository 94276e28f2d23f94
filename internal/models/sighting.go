package models

import "time"

// One observation of a device fingerprint, recorded on every contact.
// Sharing detection queries these rows for distinct IPs per user in a
// rolling 24h window.
type DeviceSighting struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Fingerprint string    `gorm:"index" json:"fingerprint"`
	UserID      string    `gorm:"index" json:"user_id,omitempty"`
	IPAddress   string    `json:"ip_address"`
	SeenAt      time.Time `gorm:"index" json:"seen_at"`
}

func (DeviceSighting) TableName() string {
	return "device_sightings"
}
