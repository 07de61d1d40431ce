package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/loopkit/internal/bag"
	"github.com/alecgard/loopkit/internal/chain"
	"github.com/alecgard/loopkit/internal/config"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/alecgard/loopkit/internal/user"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo loops, members and bags",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoChains = []chain.CreateChainInput{
	{
		Name:             "Utrecht Oost",
		Description:      "Neighbourhood loop around the Wilhelminapark.",
		OpenToNewMembers: true,
		Published:        true,
		Sizes:            []string{"women", "men", "children"},
	},
	{
		Name:             "Leiden Centrum",
		Description:      "Small loop for the old town. New members by invitation.",
		OpenToNewMembers: false,
		Published:        true,
		Sizes:            []string{"women", "baby"},
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	chains := chain.NewService(chain.NewStore(pool))
	users := user.NewStore(pool, cfg.Server.SessionTTL)
	bags := bag.NewStore(pool)

	existing, _, err := chains.List(ctx, chain.ListParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing chains: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	var created []*chain.Record
	for _, in := range demoChains {
		c, err := chains.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("creating chain %q: %w", in.Name, err)
		}
		slog.Info("created chain", "name", c.Name, "id", c.ID)
		created = append(created, c)
	}

	// The password is random per seed run so demo databases never share one.
	password := uuid.NewString()[:12]
	email := "host@example.org"
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return fmt.Errorf("user %s already exists", email)
	} else if !errors.Is(err, loop.ErrNotFound) {
		return err
	}

	host, err := users.Create(ctx, user.CreateUserInput{
		Email:    email,
		Password: password,
		Name:     "Demo Host",
		Address:  "Biltstraat 1, Utrecht",
		Chains: []loop.ChainMembership{
			{ChainID: created[0].ID, IsApproved: true, IsChainAdmin: true},
			{ChainID: created[1].ID, IsApproved: false},
		},
	})
	if err != nil {
		return fmt.Errorf("creating demo member: %w", err)
	}
	slog.Info("created member", "id", host.ID, "email", host.Email)

	for i, color := range []string{"#e76f51", "#2a9d8f"} {
		b, err := bags.Create(ctx, bag.CreateBagInput{
			Number:  fmt.Sprintf("%d", i+1),
			Color:   color,
			ChainID: created[0].ID,
			UserID:  host.ID,
		})
		if err != nil {
			return fmt.Errorf("creating bag: %w", err)
		}
		if i == 0 {
			// The first bag has been held long enough to show up as stale.
			if err := bags.HandOver(ctx, b.ID, host.ID, time.Now().AddDate(0, 0, -(loop.DefaultStaleBagDays+3))); err != nil {
				return fmt.Errorf("backdating bag: %w", err)
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Demo Data Seeded ===\n")
	fmt.Fprintf(out, "Loops:     %d created\n", len(created))
	fmt.Fprintf(out, "Member:    %s\n", email)
	fmt.Fprintf(out, "Password:  %s\n", password)
	fmt.Fprintf(out, "\nTry it:\n")
	fmt.Fprintf(out, "  loopkit login --email %s\n", email)
	fmt.Fprintf(out, "  loopkit status\n")
	return nil
}
