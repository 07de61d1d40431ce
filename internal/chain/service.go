package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecgard/loopkit/internal/loop"
)

// Validation errors returned by the Service layer. Each wraps loop.ErrValidation.
var (
	ErrNameRequired = fmt.Errorf("name is required: %w", loop.ErrValidation)
	ErrNameTooLong  = fmt.Errorf("name must be at most %d characters: %w", maxNameLength, loop.ErrValidation)
)

const maxNameLength = 120

type chainStore interface {
	Create(ctx context.Context, in CreateChainInput) (*Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, params ListParams) ([]*Record, string, error)
}

// Service provides validated business logic over the chain Store.
type Service struct {
	store chainStore
}

// NewService creates a new Service wrapping the given store.
func NewService(store chainStore) *Service {
	return &Service{store: store}
}

// Create validates the input and creates the chain.
func (s *Service) Create(ctx context.Context, in CreateChainInput) (*Record, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Sizes = normalizeSizes(in.Sizes)
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	return s.store.Create(ctx, in)
}

// Get returns the chain with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*loop.Chain, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("chain id is required: %w", loop.ErrValidation)
	}
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c := r.Chain
	return &c, nil
}

// Exists reports whether a chain with the given ID is stored.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetByID(ctx, id)
	if errors.Is(err, loop.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns a paginated list of chains.
func (s *Service) List(ctx context.Context, params ListParams) ([]*Record, string, error) {
	return s.store.List(ctx, params)
}

func validateCreate(in CreateChainInput) error {
	if in.Name == "" {
		return ErrNameRequired
	}
	if len([]rune(in.Name)) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// normalizeSizes trims, drops empties and removes duplicates, keeping order.
func normalizeSizes(sizes []string) []string {
	out := make([]string, 0, len(sizes))
	seen := make(map[string]bool, len(sizes))
	for _, s := range sizes {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
