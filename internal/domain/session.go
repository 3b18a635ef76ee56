package domain

import "time"

type Session struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           string    `gorm:"size:64;index;not null" json:"user_id"`
	TenantID         string    `gorm:"size:128;index;not null" json:"tenant_id"`
	RefreshTokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserAgent        string    `gorm:"size:512" json:"user_agent"`
	IPAddress        string    `gorm:"size:64" json:"ip_address"`
	DeviceType       string    `gorm:"size:32" json:"device_type"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// SessionMetadata describes the client that opened a session.
type SessionMetadata struct {
	UserAgent  string
	IPAddress  string
	DeviceType string
}
