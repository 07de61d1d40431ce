package bag

import (
	"context"
	"fmt"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for bags.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const bagColumns = `id, number, color, chain_id, user_id, updated_at`

func scanBag(row pgx.Row) (loop.Bag, error) {
	var b loop.Bag
	err := row.Scan(&b.ID, &b.Number, &b.Color, &b.ChainID, &b.UserID, &b.UpdatedAt)
	return b, err
}

// CreateBagInput describes a new bag handed to its first holder.
type CreateBagInput struct {
	Number  string `json:"number"`
	Color   string `json:"color"`
	ChainID string `json:"chain_uid"`
	UserID  string `json:"user_uid"`
}

// Create inserts a new bag.
func (s *Store) Create(ctx context.Context, in CreateBagInput) (loop.Bag, error) {
	b, err := scanBag(s.pool.QueryRow(ctx,
		`INSERT INTO bags (number, color, chain_id, user_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+bagColumns,
		in.Number, in.Color, in.ChainID, in.UserID,
	))
	if err != nil {
		return loop.Bag{}, fmt.Errorf("creating bag: %w", err)
	}
	return b, nil
}

// ListByUser returns the bags currently held by a member, oldest hand-over first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]loop.Bag, error) {
	return s.list(ctx, `SELECT `+bagColumns+` FROM bags WHERE user_id = $1 ORDER BY updated_at, number`, userID)
}

// ListByChain returns every bag circulating in a chain.
func (s *Store) ListByChain(ctx context.Context, chainID string) ([]loop.Bag, error) {
	return s.list(ctx, `SELECT `+bagColumns+` FROM bags WHERE chain_id = $1 ORDER BY number`, chainID)
}

func (s *Store) list(ctx context.Context, query string, arg string) ([]loop.Bag, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing bags: %w", err)
	}
	defer rows.Close()

	bags := []loop.Bag{}
	for rows.Next() {
		b, err := scanBag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bag: %w", err)
		}
		bags = append(bags, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bags: %w", err)
	}
	return bags, nil
}

// HandOver moves a bag to another member and resets its hold timer.
func (s *Store) HandOver(ctx context.Context, bagID, toUserID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bags SET user_id = $1, updated_at = $2 WHERE id = $3`,
		toUserID, at, bagID)
	if err != nil {
		return fmt.Errorf("handing over bag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("handing over bag: %w", loop.ErrNotFound)
	}
	return nil
}
