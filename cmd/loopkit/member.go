package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"github.com/spf13/cobra"
)

// describe turns error kinds into messages a member can act on.
func describe(err error) error {
	switch {
	case errors.Is(err, loop.ErrAuth):
		return fmt.Errorf("not signed in (run `loopkit login`): %w", err)
	case errors.Is(err, loop.ErrNetwork):
		return fmt.Errorf("could not reach the loop API, try again: %w", err)
	default:
		return err
	}
}

var (
	loginEmail string
	jsonOutput bool
	clearChain bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Long:  "Sign in with email and password. The password is read from LOOPKIT_PASSWORD or the first line of stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if loginEmail == "" {
			return errors.New("--email is required")
		}
		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}

		res, err := s.api.Login(ctx, loginEmail, password)
		if err != nil {
			return describe(err)
		}
		if err := s.store.SetCredentials(ctx, res.Token); err != nil {
			return err
		}
		if err := s.store.Authenticate(ctx); err != nil {
			return describe(err)
		}
		st := s.store.Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", st.User.Name)
		return nil
	},
}

func readPassword(in io.Reader) (string, error) {
	if pw := os.Getenv("LOOPKIT_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signed-in member, active loop and held bags",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *memberSession) error {
			if err := s.store.RefreshBags(ctx); err != nil {
				return describe(err)
			}
			st := s.store.Snapshot()
			flags := s.store.Flags()
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"state": st, "flags": flags})
			}

			fmt.Fprintf(out, "Member:  %s <%s>\n", st.User.Name, st.User.Email)
			if flags.Paused {
				fmt.Fprintf(out, "Paused:  until %s\n", st.User.PausedUntil.Local().Format("Mon 2 Jan 2006"))
			} else {
				fmt.Fprintln(out, "Paused:  no")
			}
			if st.ActiveChain != nil {
				role := "member"
				if flags.IsAdmin {
					role = "host"
				}
				fmt.Fprintf(out, "Loop:    %s (%s)\n", st.ActiveChain.Name, role)
				fmt.Fprintf(out, "Share:   %s\n", st.ActiveChain.SignupURL(s.cfg.Client.SignupBase))
			} else {
				fmt.Fprintln(out, "Loop:    none selected (run `loopkit chain`)")
			}

			fmt.Fprintf(out, "Bags:    %d\n", len(st.Bags))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			now := time.Now()
			for _, b := range st.Bags {
				held := int(now.Sub(b.UpdatedAt).Hours() / 24)
				fmt.Fprintf(tw, "  #%s\t%s\theld %d days\n", b.Number, b.Color, held)
			}
			_ = tw.Flush()
			if flags.StaleBag {
				fmt.Fprintf(out, "\nA bag has been with you for more than %d days. Please pass it on.\n", loop.DefaultStaleBagDays)
			}
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:       "pause <none|week|2weeks|3weeks>",
	Short:     "Pause participation for a number of weeks, or resume with none",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(loop.PauseNone), string(loop.PauseWeek), string(loop.Pause2Weeks), string(loop.Pause3Weeks)},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := loop.ParsePauseMode(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *memberSession) error {
			if err := s.store.SetPause(ctx, mode); err != nil {
				return describe(err)
			}
			st := s.store.Snapshot()
			if st.User.PausedUntil == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Participation resumed")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Paused until %s\n", st.User.PausedUntil.Local().Format("Mon 2 Jan 2006"))
			}
			return nil
		})
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain [loop-id]",
	Short: "List your loops, or select the active one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *memberSession) error {
			out := cmd.OutOrStdout()
			st := s.store.Snapshot()

			if clearChain {
				if err := s.store.SetChain(ctx, nil, st.User.ID); err != nil {
					return describe(err)
				}
				fmt.Fprintln(out, "Active loop cleared")
				return nil
			}

			chains, err := s.store.ListChains(ctx)
			if err != nil {
				return describe(err)
			}

			if len(args) == 0 {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, c := range chains {
					marker := " "
					if st.ActiveChain != nil && st.ActiveChain.ID == c.ID {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s %s\t%s\n", marker, c.ID, c.Name)
				}
				_ = tw.Flush()
				if len(chains) == 0 {
					fmt.Fprintln(out, "You are not an approved member of any loop yet.")
				}
				return nil
			}

			for i := range chains {
				if chains[i].ID == args[0] {
					if err := s.store.SetChain(ctx, &chains[i], st.User.ID); err != nil {
						return describe(err)
					}
					fmt.Fprintf(out, "Active loop: %s\n", chains[i].Name)
					return nil
				}
			}
			return fmt.Errorf("loop %s is not one of your approved loops: %w", args[0], loop.ErrValidation)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		s.store.Logout(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "print state and flags as JSON")
	chainCmd.Flags().BoolVar(&clearChain, "clear", false, "clear the active loop")

	rootCmd.AddCommand(loginCmd, statusCmd, pauseCmd, chainCmd, logoutCmd)
}
