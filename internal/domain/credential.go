package domain

import "time"

// Credential is a user's authentication identity inside one tenant.
// DeletedAt is a plain nullable column rather than gorm.DeletedAt so that
// soft-deleted accounts are still found by lookups and rejected explicitly.
// Only live rows are unique on (tenant_id, email): a soft-deleted row may
// share its email with a later registration.
type Credential struct {
	ID                  string     `gorm:"size:64;primaryKey" json:"id"`
	TenantID            string     `gorm:"size:128;not null;index:idx_credentials_tenant_email;uniqueIndex:idx_credentials_tenant_email_live,where:deleted_at IS NULL" json:"tenant_id"`
	RoleID              string     `gorm:"size:64" json:"role_id"`
	Email               string     `gorm:"size:320;not null;index:idx_credentials_tenant_email;uniqueIndex:idx_credentials_tenant_email_live,where:deleted_at IS NULL" json:"email"`
	PasswordHash        string     `gorm:"size:255;not null" json:"-"`
	FirstName           string     `gorm:"size:128" json:"first_name"`
	LastName            string     `gorm:"size:128" json:"last_name"`
	IsActive            bool       `gorm:"not null" json:"is_active"`
	IsVerified          bool       `gorm:"not null;default:false" json:"is_verified"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP         string     `gorm:"size:64" json:"-"`
	DeletedAt           *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsLocked reports whether the lockout window is still open at now.
func (c *Credential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}

// UserSummary is the public projection of a credential returned to callers.
type UserSummary struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	RoleID      string     `json:"role_id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	IsVerified  bool       `json:"is_verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (c *Credential) Summary() UserSummary {
	return UserSummary{
		ID:          c.ID,
		TenantID:    c.TenantID,
		RoleID:      c.RoleID,
		Email:       c.Email,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		IsVerified:  c.IsVerified,
		LastLoginAt: c.LastLoginAt,
	}
}
