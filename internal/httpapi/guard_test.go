package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/directory"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/unlock"
)

const (
	testGuardSecret = "test-secret-key-0123456789abcdef"
	testCashierPIN  = "4071"
)

// mustHashPIN generates a bcrypt hash of the given PIN or fails the test.
func mustHashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newTestGuard(t *testing.T, idleTimeout time.Duration) *Guard {
	t.Helper()

	dir := directory.NewMemory([]domain.Employee{
		{
			ID:       "emp-cashier-1",
			Name:     "Dana Reyes",
			BranchID: "main-branch",
			Role:     "cashier",
			PINHash:  mustHashPIN(t, testCashierPIN),
			Active:   true,
		},
	})
	return NewGuard(testGuardSecret, time.Hour, idleTimeout, dir, unlock.NewMemory())
}

func TestAuthenticateIssuesWorkingUnlockToken(t *testing.T) {
	guard := newTestGuard(t, time.Minute)
	ctx := context.Background()

	resp, err := guard.Authenticate(ctx, domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if resp.UnlockToken == "" {
		t.Fatalf("expected unlock token in response")
	}
	if resp.EmployeeID != "emp-cashier-1" || resp.Role != "cashier" {
		t.Fatalf("unexpected identity in response: %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Fatalf("expires_at is not RFC3339: %q", resp.ExpiresAt)
	}

	actor, err := guard.Verify(ctx, resp.UnlockToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if actor.EmployeeID != "emp-cashier-1" || actor.BranchID != "main-branch" || actor.Name != "Dana Reyes" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestAuthenticateRejectsWrongPIN(t *testing.T) {
	guard := newTestGuard(t, time.Minute)

	_, err := guard.Authenticate(context.Background(), domain.PinAuthRequest{BranchID: "main-branch", PIN: "9999"})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong PIN, got %v", err)
	}
}

func TestAuthenticateRejectsShortPIN(t *testing.T) {
	guard := newTestGuard(t, time.Minute)

	for _, pin := range []string{"", "  ", "123", " 12 "} {
		_, err := guard.Authenticate(context.Background(), domain.PinAuthRequest{BranchID: "main-branch", PIN: pin})
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("PIN %q: expected ErrValidation, got %v", pin, err)
		}
	}
}

func TestAuthenticateIgnoresOtherBranchStaff(t *testing.T) {
	guard := newTestGuard(t, time.Minute)

	_, err := guard.Authenticate(context.Background(), domain.PinAuthRequest{BranchID: "branch-elsewhere", PIN: testCashierPIN})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign branch, got %v", err)
	}
}

func TestVerifyRejectsAfterLock(t *testing.T) {
	guard := newTestGuard(t, time.Minute)
	ctx := context.Background()

	resp, err := guard.Authenticate(ctx, domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if err := guard.Lock(ctx, resp.UnlockToken); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	_, err = guard.Verify(ctx, resp.UnlockToken)
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after lock, got %v", err)
	}
}

func TestVerifyRejectsAfterIdleTimeout(t *testing.T) {
	guard := newTestGuard(t, 20*time.Millisecond)
	ctx := context.Background()

	resp, err := guard.Authenticate(ctx, domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	_, err = guard.Verify(ctx, resp.UnlockToken)
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after idle timeout, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "inactivity") {
		t.Fatalf("expected idle-lock message, got %v", err)
	}

	// Handover still works on an idled-out token.
	if err := guard.Lock(ctx, resp.UnlockToken); err != nil {
		t.Fatalf("lock after idle expiry failed: %v", err)
	}
}

func TestVerifyRefreshesIdleTimer(t *testing.T) {
	guard := newTestGuard(t, 60*time.Millisecond)
	ctx := context.Background()

	resp, err := guard.Authenticate(ctx, domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	// Keep touching inside the idle window; total elapsed time exceeds it.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, err := guard.Verify(ctx, resp.UnlockToken); err != nil {
			t.Fatalf("verify %d failed: %v", i+1, err)
		}
	}
}

func TestVerifyRejectsForgedTokens(t *testing.T) {
	guard := newTestGuard(t, time.Minute)
	other := newTestGuard(t, time.Minute)
	other.secret = []byte("another-secret-key-for-other-till")
	ctx := context.Background()

	resp, err := other.Authenticate(ctx, domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"wrong secret": resp.UnlockToken,
	} {
		if _, err := guard.Verify(ctx, token); !errors.Is(err, store.ErrUnauthorized) {
			t.Fatalf("%s token: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

type slowDirectory struct{}

func (slowDirectory) ListByBranch(ctx context.Context, _ string) ([]domain.Employee, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAuthenticateDirectoryTimeout(t *testing.T) {
	guard := NewGuard(testGuardSecret, time.Hour, time.Minute, slowDirectory{}, unlock.NewMemory())
	guard.authTimeout = 10 * time.Millisecond

	_, err := guard.Authenticate(context.Background(), domain.PinAuthRequest{BranchID: "main-branch", PIN: testCashierPIN})
	if !errors.Is(err, store.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}
