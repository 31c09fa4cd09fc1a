// Package auth implements account registration, password login with lockout,
// JWT access tokens, and a capped refresh token ring.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
)

// bcryptCost is fixed; raising it invalidates no existing hashes but slows
// new logins.
const bcryptCost = 12

const minPasswordLen = 8

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID string
	Email  string
	Role   model.UserRole
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Claims is the JWT payload of an access token.
type Claims struct {
	Email string         `json:"email"`
	Role  model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies credentials.
type Service struct {
	meta  *metadata.Store
	cache volatile.Store
	cfg   config.AuthConfig

	now func() time.Time
}

// New creates the auth service.
func New(meta *metadata.Store, cache volatile.Store, cfg config.AuthConfig) *Service {
	return &Service{meta: meta, cache: cache, cfg: cfg, now: time.Now}
}

// Register creates an account. Duplicate emails surface as CONFLICT.
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, errs.Validation("email is required")
	}
	if len(password) < minPasswordLen {
		return nil, errs.Validation("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, errs.Internal("failed to hash password", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleFree,
		IsActive:     true,
	}
	if _, err := s.meta.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a token pair. Five consecutive
// failures lock the account for fifteen minutes.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	now := s.now()

	user, err := s.meta.GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, errs.Authentication("invalid credentials")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, errs.Authentication("account is disabled")
	}
	if user.IsLockedOut(now) {
		return nil, errs.Authentication("account is temporarily locked").
			With("lockedUntil", user.LockoutUntil)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if user.RecordLoginFailure(now) {
			logger.Warn("account locked after repeated login failures",
				logger.KeyUserID, user.ID)
		}
		if err := s.meta.SaveUser(ctx, user); err != nil {
			logger.Warn("failed to record login failure",
				logger.KeyUserID, user.ID, logger.KeyError, err)
		}
		return nil, errs.Authentication("invalid credentials")
	}

	user.RecordLoginSuccess(now)
	pair, err := s.issueTokens(user, now)
	if err != nil {
		return nil, err
	}
	if err := s.meta.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh rotates a refresh token for a new pair. The old token leaves the
// ring whether or not issuance succeeds.
func (s *Service) Refresh(ctx context.Context, userID, refreshToken string) (*TokenPair, error) {
	now := s.now()

	user, err := s.meta.GetUser(ctx, userID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, errs.Authentication("invalid refresh token")
		}
		return nil, err
	}
	if !user.HasRefreshToken(refreshToken, now) {
		return nil, errs.Authentication("invalid refresh token")
	}

	user.RemoveRefreshToken(refreshToken)
	pair, err := s.issueTokens(user, now)
	if err != nil {
		return nil, err
	}
	if err := s.meta.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout drops the refresh token and blacklists the access token's JTI for
// the remainder of its lifetime.
func (s *Service) Logout(ctx context.Context, userID, refreshToken, accessToken string) error {
	user, err := s.meta.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.RemoveRefreshToken(refreshToken)
	if err := s.meta.SaveUser(ctx, user); err != nil {
		return err
	}

	if claims, err := s.parseClaims(accessToken); err == nil && claims.ID != "" {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl > 0 {
			if err := s.cache.Set(ctx, volatile.PrefixBlacklist+claims.ID, "1", ttl); err != nil {
				logger.Warn("failed to blacklist access token",
					logger.KeyUserID, userID, logger.KeyError, err)
			}
		}
	}
	return nil
}

// Verify parses an access token and returns the principal. Blacklisted and
// expired tokens are rejected.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.parseClaims(accessToken)
	if err != nil {
		return nil, errs.Authentication("invalid or expired token")
	}

	if claims.ID != "" {
		revoked, err := s.cache.Exists(ctx, volatile.PrefixBlacklist+claims.ID)
		// Blacklist lookups fail open; a downed volatile store must not
		// lock every caller out
		if err == nil && revoked {
			return nil, errs.Authentication("token has been revoked")
		}
	}

	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

func (s *Service) issueTokens(user *model.User, now time.Time) (*TokenPair, error) {
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, errs.Internal("failed to sign access token", err)
	}

	refresh, err := randomToken()
	if err != nil {
		return nil, errs.Internal("failed to generate refresh token", err)
	}
	user.AddRefreshToken(refresh, now.Add(s.cfg.RefreshTokenTTL), now)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) parseClaims(accessToken string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errs.Authentication("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
