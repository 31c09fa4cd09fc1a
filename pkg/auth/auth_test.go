package auth

import (
	"context"
	"testing"
	"time"

	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/model"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile/memory"
)

func newAuthFixture(t *testing.T) (*Service, *metadata.Store, *memory.Store) {
	t.Helper()
	meta, err := metadata.OpenTestDB()
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	cache := memory.New()
	svc := New(meta, cache, config.AuthConfig{
		JWTSecret:       "test-secret-not-for-production",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	return svc, meta, cache
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice@Example.COM ", "correct horse")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email should be normalized, got %q", user.Email)
	}
	if user.Role != model.RoleFree {
		t.Errorf("new accounts start free, got %s", user.Role)
	}
	if user.PasswordHash == "correct horse" {
		t.Error("password must not be stored in the clear")
	}

	pair, err := svc.Login(ctx, "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login should issue both tokens")
	}

	principal, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if principal.UserID != user.ID || principal.Email != "alice@example.com" {
		t.Errorf("principal mismatch: %+v", principal)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	if _, err := svc.Register(context.Background(), "a@b.com", "short"); !errs.Is(err, errs.CodeValidation) {
		t.Errorf("short password should be VALIDATION_ERROR, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password1"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "A@B.com", "password2"); !errs.Is(err, errs.CodeConflict) {
		t.Errorf("duplicate email should be CONFLICT, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := svc.Login(ctx, "a@b.com", "wrong password"); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("wrong password should be AUTHENTICATION_ERROR, got %v", err)
	}
	// Unknown accounts produce the same error as wrong passwords
	if _, err := svc.Login(ctx, "nobody@b.com", "password1"); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("unknown email should be AUTHENTICATION_ERROR, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	base := time.Now()
	svc.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		if _, err := svc.Login(ctx, "a@b.com", "wrong"); err == nil {
			t.Fatalf("attempt %d should fail", i)
		}
	}

	// Even the right password is refused while locked
	if _, err := svc.Login(ctx, "a@b.com", "password1"); !errs.Is(err, errs.CodeAuthentication) {
		t.Fatalf("locked account should refuse login, got %v", err)
	}

	// The lockout lapses after fifteen minutes
	svc.now = func() time.Time { return base.Add(16 * time.Minute) }
	if _, err := svc.Login(ctx, "a@b.com", "password1"); err != nil {
		t.Errorf("login after the lockout window should succeed, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	next, err := svc.Refresh(ctx, user.ID, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh must rotate the token")
	}

	// The spent token cannot be replayed
	if _, err := svc.Refresh(ctx, user.ID, pair.RefreshToken); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("replayed refresh token should be AUTHENTICATION_ERROR, got %v", err)
	}
	// The rotated token works
	if _, err := svc.Refresh(ctx, user.ID, next.RefreshToken); err != nil {
		t.Errorf("rotated token should refresh, got %v", err)
	}
}

func TestRefreshRingIsCapped(t *testing.T) {
	svc, meta, _ := newAuthFixture(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var first string
	for i := 0; i < 6; i++ {
		pair, err := svc.Login(ctx, "a@b.com", "password1")
		if err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
		if i == 0 {
			first = pair.RefreshToken
		}
	}

	reloaded, err := meta.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if n := len(reloaded.RefreshTokens); n > 5 {
		t.Errorf("refresh ring should cap at 5 tokens, got %d", n)
	}
	if reloaded.HasRefreshToken(first, time.Now()) {
		t.Error("the oldest token should be evicted from the ring")
	}
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := svc.Logout(ctx, user.ID, pair.RefreshToken, pair.AccessToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if _, err := svc.Verify(ctx, pair.AccessToken); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("revoked token should fail verification, got %v", err)
	}
	if _, err := svc.Refresh(ctx, user.ID, pair.RefreshToken); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("refresh token should be dropped on logout, got %v", err)
	}
}

func TestVerifyFailsOpenWithoutBlacklist(t *testing.T) {
	svc, _, cache := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	cache.SetUnavailable(true)
	if _, err := svc.Verify(ctx, pair.AccessToken); err != nil {
		t.Errorf("verify must not require the volatile store, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(context.Background(), token); !errs.Is(err, errs.CodeAuthentication) {
			t.Errorf("Verify(%q) should be AUTHENTICATION_ERROR, got %v", token, err)
		}
	}
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "a@b.com", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := New(nil, memory.New(), config.AuthConfig{
		JWTSecret:      "a-different-secret-entirely",
		AccessTokenTTL: 15 * time.Minute,
	})
	if _, err := other.Verify(ctx, pair.AccessToken); !errs.Is(err, errs.CodeAuthentication) {
		t.Errorf("token signed with another secret should be rejected, got %v", err)
	}
}
