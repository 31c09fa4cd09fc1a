package metadata

import (
	"context"

	"github.com/tidestore/tidestore/pkg/model"
)

// CreateUser inserts a user, generating an ID if absent. Duplicate emails
// surface as CONFLICT.
func (s *Store) CreateUser(ctx context.Context, user *model.User) (string, error) {
	user.Email = model.NormalizeEmail(user.Email)
	return createWithID(s.db, ctx, user, func(u *model.User, id string) { u.ID = id }, user.ID, "user")
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getByField[model.User](s.db, ctx, "id", id, "user")
}

// GetUserByEmail returns a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return getByField[model.User](s.db, ctx, "email", model.NormalizeEmail(email), "user")
}

// SaveUser writes the full user record back (lockout counters, token ring).
func (s *Store) SaveUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}
