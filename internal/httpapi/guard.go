package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/directory"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/unlock"
	"tillpoint/backend/internal/xid"
)

// Guard is the terminal access guard: PIN authentication against the
// employee directory, a short-lived unlock token, and a server-enforced
// idle lock. Client-reported locked/unlocked state is never trusted; every
// mutating call must present a token whose unlock session is still live.
type Guard struct {
	secret      []byte
	tokenTTL    time.Duration
	idleTimeout time.Duration
	authTimeout time.Duration
	directory   directory.Directory
	registry    unlock.Registry
}

type unlockClaims struct {
	jwtlib.RegisteredClaims
	Name     string `json:"name"`
	BranchID string `json:"branch_id"`
	Role     string `json:"role"`
}

func NewGuard(secret string, tokenTTL, idleTimeout time.Duration, dir directory.Directory, registry unlock.Registry) *Guard {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if idleTimeout <= 0 {
		idleTimeout = 3 * time.Minute
	}
	return &Guard{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		idleTimeout: idleTimeout,
		authTimeout: 5 * time.Second,
		directory:   dir,
		registry:    registry,
	}
}

// Authenticate verifies a PIN against the branch staff list and, on match,
// registers a fresh unlock session and issues its token.
func (g *Guard) Authenticate(ctx context.Context, req domain.PinAuthRequest) (domain.PinAuthResponse, error) {
	pin := strings.TrimSpace(req.PIN)
	if len(pin) < 4 {
		return domain.PinAuthResponse{}, fmt.Errorf("%w: PIN must be at least 4 digits", store.ErrValidation)
	}

	dirCtx, cancel := context.WithTimeout(ctx, g.authTimeout)
	defer cancel()
	employees, err := g.directory.ListByBranch(dirCtx, req.BranchID)
	if err != nil {
		if dirCtx.Err() != nil {
			return domain.PinAuthResponse{}, fmt.Errorf("%w: employee directory: %v", store.ErrUpstreamTimeout, err)
		}
		return domain.PinAuthResponse{}, err
	}

	var matched *domain.Employee
	for i := range employees {
		if bcrypt.CompareHashAndPassword([]byte(employees[i].PINHash), []byte(pin)) == nil {
			matched = &employees[i]
			break
		}
	}
	if matched == nil {
		return domain.PinAuthResponse{}, fmt.Errorf("%w: invalid PIN", store.ErrUnauthorized)
	}

	unlockID := xid.New("unlock")
	if err := g.registry.Put(ctx, unlockID, matched.ID, g.idleTimeout); err != nil {
		return domain.PinAuthResponse{}, err
	}

	expiresAt := time.Now().UTC().Add(g.tokenTTL)
	token, err := g.sign(unlockID, *matched, expiresAt)
	if err != nil {
		return domain.PinAuthResponse{}, err
	}

	return domain.PinAuthResponse{
		UnlockToken: token,
		EmployeeID:  matched.ID,
		Name:        matched.Name,
		Role:        matched.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Verify parses an unlock token and refreshes its idle timer. A token whose
// unlock session has idled out is rejected even though the JWT itself is
// still valid.
func (g *Guard) Verify(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims, err := g.parse(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}

	alive, err := g.registry.Touch(ctx, claims.ID, g.idleTimeout)
	if err != nil {
		return domain.Actor{}, err
	}
	if !alive {
		return domain.Actor{}, fmt.Errorf("%w: terminal locked after inactivity", store.ErrUnauthorized)
	}

	return domain.Actor{
		EmployeeID: claims.Subject,
		Name:       claims.Name,
		BranchID:   claims.BranchID,
		Role:       claims.Role,
	}, nil
}

// Lock revokes the unlock session immediately (cashier handover).
func (g *Guard) Lock(ctx context.Context, tokenStr string) error {
	claims, err := g.parse(tokenStr)
	if err != nil {
		return err
	}
	return g.registry.Revoke(ctx, claims.ID)
}

func (g *Guard) parse(tokenStr string) (*unlockClaims, error) {
	claims := &unlockClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid or expired unlock token", store.ErrUnauthorized)
	}
	return claims, nil
}

func (g *Guard) sign(unlockID string, employee domain.Employee, expiresAt time.Time) (string, error) {
	claims := unlockClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        unlockID,
			Subject:   employee.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tillpoint",
		},
		Name:     employee.Name,
		BranchID: employee.BranchID,
		Role:     employee.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}
