package model

import "time"

// SessionStatus is the upload session state machine.
//
//	pending ──first chunk──▶ uploading
//	uploading ──complete──▶ assembling
//	assembling ──ok──▶ completed        (terminal)
//	assembling ──fail──▶ failed         (terminal)
//	any live ──ttl──▶ expired           (terminal)
//	any live ──abort──▶ failed          (terminal)
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionUploading  SessionStatus = "uploading"
	SessionAssembling SessionStatus = "assembling"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// CanTransition reports whether moving from s to next follows the state
// machine arrows. Self-transitions on live states are allowed (chunk after
// chunk keeps the session uploading).
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case SessionPending:
		return s == SessionPending
	case SessionUploading:
		return s == SessionPending || s == SessionUploading
	case SessionAssembling:
		return s == SessionUploading
	case SessionCompleted, SessionFailed:
		// failed also covers abort from any live state
		return next == SessionFailed || s == SessionAssembling
	case SessionExpired:
		return true
	default:
		return false
	}
}

// ChunkRecord is the durable note for one completed chunk.
type ChunkRecord struct {
	Index       int       `json:"index"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"` // md5, hex
	CompletedAt time.Time `json:"completed_at"`
}

// UploadSession coordinates one chunked upload. A denormalized copy lives in
// the volatile store under upload_session:<id> while the session is live.
type UploadSession struct {
	SessionID    string  `gorm:"primaryKey;size:36" json:"session_id"`
	UserID       string  `gorm:"size:36;not null;index" json:"user_id"`
	Filename     string  `gorm:"not null;size:255" json:"filename"`
	MimeType     string  `gorm:"size:255" json:"mime_type"`
	TotalSize    int64   `gorm:"not null" json:"total_size"`
	ExpectedHash string  `gorm:"size:64" json:"expected_hash,omitempty"`
	FolderID     *string `gorm:"size:36" json:"folder_id,omitempty"`

	ChunkSize   int64 `gorm:"not null" json:"chunk_size"`
	TotalChunks int   `gorm:"not null" json:"total_chunks"`

	CompletedChunks []ChunkRecord `gorm:"serializer:json" json:"completed_chunks"`

	Status      SessionStatus `gorm:"default:pending;size:16;index" json:"status"`
	Error       string        `gorm:"size:255" json:"error,omitempty"`
	FileID      *string       `gorm:"size:36" json:"file_id,omitempty"`
	StorageTier *StorageTier  `gorm:"size:8" json:"storage_tier,omitempty"`

	StartedAt      time.Time  `gorm:"autoCreateTime" json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      time.Time  `gorm:"index" json:"expires_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"-"`
}

// TableName returns the table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// IsComplete reports whether every chunk has been recorded.
func (s *UploadSession) IsComplete() bool {
	return len(s.CompletedChunks) == s.TotalChunks
}

// HasChunk reports whether the chunk at index was already recorded.
func (s *UploadSession) HasChunk(index int) bool {
	for _, c := range s.CompletedChunks {
		if c.Index == index {
			return true
		}
	}
	return false
}

// ExpectedChunkSize returns the required byte count for the chunk at index:
// full ChunkSize for all but the last, which may be shorter.
func (s *UploadSession) ExpectedChunkSize(index int) int64 {
	if index == s.TotalChunks-1 {
		if rem := s.TotalSize % s.ChunkSize; rem != 0 {
			return rem
		}
	}
	return s.ChunkSize
}

// RemainingChunks lists the indices not yet recorded, in ascending order.
func (s *UploadSession) RemainingChunks() []int {
	done := make(map[int]bool, len(s.CompletedChunks))
	for _, c := range s.CompletedChunks {
		done[c.Index] = true
	}
	var remaining []int
	for i := 0; i < s.TotalChunks; i++ {
		if !done[i] {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// TotalChunksFor computes ceil(totalSize / chunkSize).
func TotalChunksFor(totalSize, chunkSize int64) int {
	return int((totalSize + chunkSize - 1) / chunkSize)
}
