package memory

import (
	"context"
	"sync"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PolicyStore implements domain.PolicyStore in memory.
type PolicyStore struct {
	mu       sync.Mutex
	policies map[string]domain.InstitutionPolicy // keyed by institutionID + "/" + region
}

// NewPolicyStore creates an empty PolicyStore.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]domain.InstitutionPolicy)}
}

func policyKey(institutionID string, region domain.Region) string {
	return institutionID + "/" + string(region)
}

// Upsert creates or replaces the policy for (institutionID, region).
func (s *PolicyStore) Upsert(
	ctx context.Context,
	institutionID string,
	region domain.Region,
	config domain.PositionPolicyConfig,
) (domain.InstitutionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := policyKey(institutionID, region)

	policy, ok := s.policies[key]
	if !ok {
		policy = domain.InstitutionPolicy{
			ID:            domain.NewID("pol"),
			InstitutionID: institutionID,
			Region:        region,
			CreatedAt:     now,
		}
	}
	policy.Config = config
	policy.UpdatedAt = now

	s.policies[key] = policy
	return policy, nil
}

// Get returns the policy for (institutionID, region), or domain.ErrNotFound.
func (s *PolicyStore) Get(ctx context.Context, institutionID string, region domain.Region) (domain.InstitutionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[policyKey(institutionID, region)]
	if !ok {
		return domain.InstitutionPolicy{}, domain.ErrNotFound
	}
	return policy, nil
}

// List returns all policies for the institution.
func (s *PolicyStore) List(ctx context.Context, institutionID string) ([]domain.InstitutionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InstitutionPolicy
	for _, policy := range s.policies {
		if policy.InstitutionID == institutionID {
			out = append(out, policy)
		}
	}
	return out, nil
}
