// Package access decides whether a caller may read a file.
package access

import (
	"context"
	"crypto/subtle"

	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/metadata"
)

// Policy evaluates download access rules against file and user records.
type Policy struct {
	meta *metadata.Store
}

// NewPolicy creates an access policy over the metadata store.
func NewPolicy(meta *metadata.Store) *Policy {
	return &Policy{meta: meta}
}

// Check applies the download rules in order:
//
//  1. public file without a password: anyone
//  2. file with a password: the supplied password must match (constant time)
//  3. private file: requires a caller; the owner is allowed, and so is any
//     admin; everyone else is denied
//
// userID is empty for anonymous callers.
func (p *Policy) Check(ctx context.Context, file *model.File, userID, password string) error {
	if file.IsPublic && file.Password == "" {
		return nil
	}

	if file.Password != "" {
		if password == "" {
			return errs.Authorization("password required")
		}
		if subtle.ConstantTimeCompare([]byte(file.Password), []byte(password)) != 1 {
			return errs.Authorization("invalid password")
		}
		return nil
	}

	if userID == "" {
		return errs.Authentication("authentication required")
	}
	if userID == file.UserID {
		return nil
	}

	user, err := p.meta.GetUser(ctx, userID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return errs.Authorization("access denied")
		}
		return err
	}
	if user.Role == model.RoleAdmin {
		return nil
	}
	return errs.Authorization("access denied")
}
