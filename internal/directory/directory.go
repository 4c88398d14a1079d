package directory

import (
	"context"
	"log"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
)

// Directory is the external employee directory. The engine only lists
// branch staff to verify PINs; it never writes employee records.
type Directory interface {
	ListByBranch(ctx context.Context, branchID string) ([]domain.Employee, error)
}

// Memory is a seeded in-process directory for dev mode and tests.
type Memory struct {
	mu        sync.RWMutex
	employees []domain.Employee
}

func NewMemory(employees []domain.Employee) *Memory {
	return &Memory{employees: employees}
}

// NewSeeded builds dev/demo staff for the given branch. PINs come from
// SEED_CASHIER_PIN and SEED_MANAGER_PIN, with warned-about defaults.
func NewSeeded(branchID string) *Memory {
	cashierPIN := envOr("SEED_CASHIER_PIN", "4071")
	managerPIN := envOr("SEED_MANAGER_PIN", "80319")
	if os.Getenv("SEED_CASHIER_PIN") == "" || os.Getenv("SEED_MANAGER_PIN") == "" {
		log.Println("[directory] WARNING: using default dev PINs. Set SEED_CASHIER_PIN and SEED_MANAGER_PIN to override.")
	}

	seed := []struct {
		id   string
		name string
		role string
		pin  string
	}{
		{"emp-cashier-1", "Dana Reyes", "cashier", cashierPIN},
		{"emp-manager-1", "Sam Okafor", "manager", managerPIN},
	}

	employees := make([]domain.Employee, 0, len(seed))
	for _, e := range seed {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.pin), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[directory] failed to hash seed PIN for %s: %v", e.id, err)
		}
		employees = append(employees, domain.Employee{
			ID:       e.id,
			Name:     e.name,
			BranchID: branchID,
			Role:     e.role,
			PINHash:  string(hash),
			Active:   true,
		})
	}
	return NewMemory(employees)
}

func (m *Memory) ListByBranch(_ context.Context, branchID string) ([]domain.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Employee, 0, len(m.employees))
	for _, employee := range m.employees {
		if employee.BranchID == branchID && employee.Active {
			result = append(result, employee)
		}
	}
	return result, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
