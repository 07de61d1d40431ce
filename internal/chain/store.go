package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for chains.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const chainColumns = `id, name, description, open_to_new_members, published, sizes, created_at, updated_at`

func scanChain(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.OpenToNewMembers,
		&r.Published,
		&r.Sizes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.Sizes == nil {
		r.Sizes = []string{}
	}
	return &r, nil
}

// Create inserts a new chain and returns the full row.
func (s *Store) Create(ctx context.Context, in CreateChainInput) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO chains (name, description, open_to_new_members, published, sizes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+chainColumns,
		in.Name, in.Description, in.OpenToNewMembers, in.Published, in.Sizes,
	)
	r, err := scanChain(row)
	if err != nil {
		return nil, fmt.Errorf("creating chain: %w", err)
	}
	return r, nil
}

// GetByID retrieves a chain by its ID.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	r, err := scanChain(s.pool.QueryRow(ctx, `SELECT `+chainColumns+` FROM chains WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting chain: %w", loop.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chain: %w", err)
	}
	return r, nil
}

// encodeCursor produces a base64-encoded cursor from a timestamp and ID.
func encodeCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", createdAt.Format(time.RFC3339Nano), id)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64-encoded cursor into a timestamp and ID.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return t, parts[1], nil
}

// List returns a page of chains ordered by created_at DESC, id DESC.
func (s *Store) List(ctx context.Context, params ListParams) ([]*Record, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	args := []any{}
	argIdx := 1
	where := []string{}

	if params.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", loop.ErrValidation)
		}
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, cursorTime, cursorID)
		argIdx += 2
	}
	if params.Query != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+params.Query+"%")
		argIdx++
	}
	if params.PublishedOnly {
		where = append(where, "published")
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM chains %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		chainColumns, clause, argIdx)
	args = append(args, limit+1) // one extra decides the next cursor

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing chains: %w", err)
	}
	defer rows.Close()

	var chains []*Record
	for rows.Next() {
		r, err := scanChain(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning chain: %w", err)
		}
		chains = append(chains, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating chains: %w", err)
	}

	var next string
	if len(chains) > limit {
		last := chains[limit-1]
		next = encodeCursor(last.CreatedAt, last.ID)
		chains = chains[:limit]
	}
	return chains, next, nil
}
