package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
)

type memStore struct {
	chains  map[string]*Record
	created []CreateChainInput
}

func (m *memStore) Create(ctx context.Context, in CreateChainInput) (*Record, error) {
	m.created = append(m.created, in)
	r := &Record{Chain: loop.Chain{ID: fmt.Sprintf("c%d", len(m.created)), Name: in.Name, Sizes: in.Sizes}}
	m.chains[r.ID] = r
	return r, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*Record, error) {
	r, ok := m.chains[id]
	if !ok {
		return nil, fmt.Errorf("getting chain: %w", loop.ErrNotFound)
	}
	return r, nil
}

func (m *memStore) List(ctx context.Context, params ListParams) ([]*Record, string, error) {
	return nil, "", nil
}

func newMemStore() *memStore {
	return &memStore{chains: map[string]*Record{}}
}

func TestServiceCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateChainInput
		wantErr error
	}{
		{name: "valid", input: CreateChainInput{Name: "Utrecht Oost"}},
		{name: "empty name", input: CreateChainInput{Name: ""}, wantErr: ErrNameRequired},
		{name: "whitespace-only name", input: CreateChainInput{Name: "   "}, wantErr: ErrNameRequired},
		{name: "name too long", input: CreateChainInput{Name: strings.Repeat("x", maxNameLength+1)}, wantErr: ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMemStore())
			_, err := svc.Create(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil && !errors.Is(err, loop.ErrValidation) {
				t.Errorf("validation errors should wrap ErrValidation, got %v", err)
			}
		})
	}
}

func TestServiceCreateNormalizes(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	_, err := svc.Create(context.Background(), CreateChainInput{
		Name:  "  Leiden  ",
		Sizes: []string{" 1", "2", "", "1", "baby "},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got := store.created[0]
	if got.Name != "Leiden" {
		t.Errorf("name not trimmed: %q", got.Name)
	}
	if strings.Join(got.Sizes, ",") != "1,2,baby" {
		t.Errorf("unexpected sizes %v", got.Sizes)
	}
}

func TestServiceGetAndExists(t *testing.T) {
	store := newMemStore()
	store.chains["c1"] = &Record{Chain: loop.Chain{ID: "c1", Name: "Delft"}}
	svc := NewService(store)

	c, err := svc.Get(context.Background(), "c1")
	if err != nil || c.Name != "Delft" {
		t.Fatalf("Get: %+v, %v", c, err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, loop.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, loop.ErrValidation) {
		t.Errorf("expected ErrValidation for empty id, got %v", err)
	}

	ok, err := svc.Exists(context.Background(), "c1")
	if err != nil || !ok {
		t.Errorf("Exists(c1) = %v, %v", ok, err)
	}
	ok, err = svc.Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
}

func TestCursorEncodeDecode(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)
	cursor := encodeCursor(ts, "abc-123")

	gotTime, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !gotTime.Equal(ts) || gotID != "abc-123" {
		t.Errorf("round trip mismatch: %v %q", gotTime, gotID)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	for _, c := range []string{"!!!not-base64", "bm8tc2VwYXJhdG9y", "bm90LWEtdGltZXxpZA=="} {
		if _, _, err := decodeCursor(c); err == nil {
			t.Errorf("expected error for cursor %q", c)
		}
	}
}
