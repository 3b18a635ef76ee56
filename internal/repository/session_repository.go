package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository is the durable, authoritative session store. Rows are
// matched by the SHA-256 of the refresh token, never by the raw token.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActive(ctx context.Context, userID, refreshTokenHash string, now time.Time) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)
	DeleteByUserAndHash(ctx context.Context, userID, refreshTokenHash string) (int64, error)
	DeleteByIDs(ctx context.Context, userID string, ids []uint) (int64, error)
	CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActive(ctx context.Context, userID, refreshTokenHash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND refresh_token_hash = ? AND expires_at > ?", userID, refreshTokenHash, now).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) DeleteByUserAndHash(ctx context.Context, userID, refreshTokenHash string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND refresh_token_hash = ?", userID, refreshTokenHash).
		Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete_by_user_and_hash", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete_by_user_and_hash", "success")
	return res.RowsAffected, nil
}

// DeleteByIDs removes the listed rows in one statement. The user_id filter
// keeps a caller from deleting another user's rows by id.
func (r *GormSessionRepository) DeleteByIDs(ctx context.Context, userID string, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete_by_ids", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete_by_ids", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count_active_by_user_id", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count_active_by_user_id", "success")
	return count, nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
