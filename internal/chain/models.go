package chain

import (
	"time"

	"github.com/alecgard/loopkit/internal/loop"
)

// Record is a stored chain with its bookkeeping timestamps.
type Record struct {
	loop.Chain
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateChainInput holds the fields required to create a new chain.
type CreateChainInput struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	OpenToNewMembers bool     `json:"open_to_new_members"`
	Published        bool     `json:"published"`
	Sizes            []string `json:"sizes"`
}

// ListParams controls listing and pagination of chains.
type ListParams struct {
	Cursor        string `json:"cursor"`
	Limit         int    `json:"limit"`
	Query         string `json:"query"`
	PublishedOnly bool   `json:"published_only"`
}
