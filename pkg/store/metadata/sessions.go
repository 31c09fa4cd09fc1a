package metadata

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tidestore/tidestore/pkg/model"
)

// CreateSession inserts an upload session record.
func (s *Store) CreateSession(ctx context.Context, session *model.UploadSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	return getByField[model.UploadSession](s.db, ctx, "session_id", sessionID, "upload session")
}

// SaveSession writes the full session record back.
func (s *Store) SaveSession(ctx context.Context, session *model.UploadSession) error {
	return s.db.WithContext(ctx).Save(session).Error
}

// AppendChunk records a completed chunk on the durable session if no entry
// for that index exists yet, stamps activity, and advances a pending session
// to uploading. The read-modify-write runs in a transaction so two racing
// posts of the same index cannot both append; the volatile chunk set remains
// the idempotence arbiter on the hot path.
func (s *Store) AppendChunk(ctx context.Context, sessionID string, chunk model.ChunkRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.UploadSession
		if err := tx.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
			return convertNotFound(err, "upload session")
		}
		if session.HasChunk(chunk.Index) {
			return nil
		}
		session.CompletedChunks = append(session.CompletedChunks, chunk)
		session.LastActivityAt = chunk.CompletedAt
		if session.Status == model.SessionPending {
			session.Status = model.SessionUploading
		}
		return tx.Save(&session).Error
	})
}

// SetSessionStatus transitions a session's status with optional error text.
func (s *Store) SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, errText string) error {
	updates := map[string]any{
		"status": status,
		"error":  errText,
	}
	if status == model.SessionCompleted || status == model.SessionFailed {
		updates["completed_at"] = time.Now()
	}
	result := s.db.WithContext(ctx).Model(&model.UploadSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return convertNotFound(gorm.ErrRecordNotFound, "upload session")
	}
	return nil
}

// ListExpiredLiveSessions returns live sessions past their TTL for sweeping.
func (s *Store) ListExpiredLiveSessions(ctx context.Context, now time.Time, limit int) ([]*model.UploadSession, error) {
	var sessions []*model.UploadSession
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.SessionStatus{model.SessionPending, model.SessionUploading, model.SessionAssembling}).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListTerminalSessionsBefore returns terminal sessions last touched before
// cutoff, for the grace-window purge.
func (s *Store) ListTerminalSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.UploadSession, error) {
	var sessions []*model.UploadSession
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.SessionStatus{model.SessionCompleted, model.SessionFailed, model.SessionExpired}).
		Where("updated_at <= ?", cutoff).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// SessionLive reports whether a session exists and is in a live state.
func (s *Store) SessionLive(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UploadSession{}).
		Where("session_id = ?", sessionID).
		Where("status IN ?", []model.SessionStatus{model.SessionPending, model.SessionUploading, model.SessionAssembling}).
		Count(&count).Error
	return count > 0, err
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.UploadSession{}).Error
}
