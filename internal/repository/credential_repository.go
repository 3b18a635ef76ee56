package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

type CredentialRepository interface {
	FindByEmailAndTenant(ctx context.Context, email, tenantID string) (*domain.Credential, error)
	FindByIDAndTenant(ctx context.Context, id, tenantID string) (*domain.Credential, error)
	ExistsActiveByEmail(ctx context.Context, email, tenantID string) (bool, error)
	Create(ctx context.Context, c *domain.Credential) error
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	LockAccount(ctx context.Context, id string, until time.Time) error
	ClearLock(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

type GormCredentialRepository struct{ db *gorm.DB }

// NewCredentialRepository expects a gorm.DB opened with TranslateError so a
// unique violation on Create surfaces as ErrCredentialExists.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &GormCredentialRepository{db: db}
}

// FindByEmailAndTenant matches email case-insensitively; emails are stored
// lowercased. When a soft-deleted row shares the email, the newest row wins.
func (r *GormCredentialRepository) FindByEmailAndTenant(ctx context.Context, email, tenantID string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).
		Where("email = ? AND tenant_id = ?", normalizeEmail(email), tenantID).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential", "find_by_email_and_tenant", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(ctx, "credential", "find_by_email_and_tenant", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "find_by_email_and_tenant", "success")
	return &c, nil
}

func (r *GormCredentialRepository) FindByIDAndTenant(ctx context.Context, id, tenantID string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential", "find_by_id_and_tenant", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(ctx, "credential", "find_by_id_and_tenant", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "find_by_id_and_tenant", "success")
	return &c, nil
}

func (r *GormCredentialRepository) ExistsActiveByEmail(ctx context.Context, email, tenantID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("email = ? AND tenant_id = ? AND deleted_at IS NULL", normalizeEmail(email), tenantID).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "exists_active_by_email", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "exists_active_by_email", "success")
	return count > 0, nil
}

func (r *GormCredentialRepository) Create(ctx context.Context, c *domain.Credential) error {
	c.Email = normalizeEmail(c.Email)
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		observability.RecordRepositoryOperation(ctx, "credential", "create", "conflict")
		return ErrCredentialExists
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "create", "success")
	return nil
}

// IncrementFailedAttempts bumps the counter and reads it back inside one
// transaction. The UPDATE takes the row lock, so concurrent failures are
// serialized and each caller sees its own post-increment value.
func (r *GormCredentialRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Credential{}).
			Where("id = ?", id).
			UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCredentialNotFound
		}
		var c domain.Credential
		if err := tx.Select("failed_login_attempts").
			Where("id = ?", id).
			First(&c).Error; err != nil {
			return err
		}
		attempts = c.FailedLoginAttempts
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential", "increment_failed_attempts", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "credential", "increment_failed_attempts", "success")
	return attempts, nil
}

func (r *GormCredentialRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	return r.updateColumns(ctx, "reset_failed_attempts", id, map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
	})
}

func (r *GormCredentialRepository) LockAccount(ctx context.Context, id string, until time.Time) error {
	return r.updateColumns(ctx, "lock_account", id, map[string]any{"locked_until": until.UTC()})
}

// ClearLock ends an expired lockout window and starts a fresh counting window.
func (r *GormCredentialRepository) ClearLock(ctx context.Context, id string) error {
	return r.updateColumns(ctx, "clear_lock", id, map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
	})
}

func (r *GormCredentialRepository) UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error {
	return r.updateColumns(ctx, "update_last_login", id, map[string]any{
		"last_login_at": at.UTC(),
		"last_login_ip": ip,
	})
}

func (r *GormCredentialRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateColumns(ctx, "update_password_hash", id, map[string]any{"password_hash": hash})
}

func (r *GormCredentialRepository) updateColumns(ctx context.Context, op, id string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Credential{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "credential", op, "not_found")
		return ErrCredentialNotFound
	}
	observability.RecordRepositoryOperation(ctx, "credential", op, "success")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
