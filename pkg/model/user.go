package model

import (
	"strings"
	"time"
)

// UserRole represents the subscription tier of a user.
type UserRole string

const (
	// RoleFree is the default tier with role-derived quota limits.
	RoleFree UserRole = "free"
	// RolePremium has unlimited quotas and non-expiring files.
	RolePremium UserRole = "premium"
	// RoleAdmin has premium privileges plus access to any file.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleFree || r == RolePremium || r == RoleAdmin
}

// Unlimited reports whether the role is exempt from quota limits and expiry.
func (r UserRole) Unlimited() bool {
	return r == RolePremium || r == RoleAdmin
}

// RefreshToken is one entry of a user's refresh token ring.
type RefreshToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxRefreshTokens caps the refresh token ring per user; the oldest entry is
// evicted when a sixth token is added.
const MaxRefreshTokens = 5

// MaxFailedLogins is the consecutive-failure count that triggers a lockout.
const MaxFailedLogins = 5

// LockoutDuration is how long an account stays locked after repeated failures.
const LockoutDuration = 15 * time.Minute

// QuotaOverride holds per-user limits that take precedence over role defaults.
// Nil fields fall back to the role default; -1 means unlimited.
type QuotaOverride struct {
	MaxStorage  *int64 `json:"max_storage,omitempty"`
	MaxFileSize *int64 `json:"max_file_size,omitempty"`
}

// User represents an account that owns files, folders, and a quota record.
type User struct {
	ID                  string         `gorm:"primaryKey;size:36" json:"id"`
	Email               string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash        string         `gorm:"not null" json:"-"`
	Role                UserRole       `gorm:"default:free;size:16" json:"role"`
	IsActive            bool           `gorm:"default:true" json:"is_active"`
	LastLogin           *time.Time     `json:"last_login,omitempty"`
	FailedLoginAttempts int            `gorm:"default:0" json:"-"`
	LockoutUntil        *time.Time     `json:"-"`
	RefreshTokens       []RefreshToken `gorm:"serializer:json" json:"-"`
	QuotaOverride       *QuotaOverride `gorm:"serializer:json" json:"quota_override,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// NormalizeEmail lowercases and trims an email for the unique index.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLockedOut reports whether the account is under a failed-login lockout.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutUntil != nil && now.Before(*u.LockoutUntil)
}

// RecordLoginFailure bumps the failure counter and arms the lockout once the
// threshold is reached. Returns true when this failure triggered the lockout.
func (u *User) RecordLoginFailure(now time.Time) bool {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= MaxFailedLogins {
		until := now.Add(LockoutDuration)
		u.LockoutUntil = &until
		return true
	}
	return false
}

// RecordLoginSuccess resets the failure counter and lockout and stamps
// LastLogin. Any successful authentication clears both.
func (u *User) RecordLoginSuccess(now time.Time) {
	u.FailedLoginAttempts = 0
	u.LockoutUntil = nil
	u.LastLogin = &now
}

// AddRefreshToken appends a refresh token, evicting the oldest entry once the
// ring holds MaxRefreshTokens. Under concurrent logins the cap is best-effort.
func (u *User) AddRefreshToken(token string, expiresAt, now time.Time) {
	u.RefreshTokens = append(u.RefreshTokens, RefreshToken{
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if len(u.RefreshTokens) > MaxRefreshTokens {
		u.RefreshTokens = u.RefreshTokens[len(u.RefreshTokens)-MaxRefreshTokens:]
	}
}

// RemoveRefreshToken drops a token from the ring. Unknown tokens are ignored.
func (u *User) RemoveRefreshToken(token string) {
	kept := u.RefreshTokens[:0]
	for _, rt := range u.RefreshTokens {
		if rt.Token != token {
			kept = append(kept, rt)
		}
	}
	u.RefreshTokens = kept
}

// HasRefreshToken reports whether the ring holds a live entry for token.
func (u *User) HasRefreshToken(token string, now time.Time) bool {
	for _, rt := range u.RefreshTokens {
		if rt.Token == token && now.Before(rt.ExpiresAt) {
			return true
		}
	}
	return false
}
