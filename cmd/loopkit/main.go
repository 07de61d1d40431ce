package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loopkit",
	Short: "loopkit: clothing loop API server and member client",
	Long: "loopkit runs the clothing loop member API (serve, migrate, seed) and a command-line " +
		"client that signs in, picks an active loop, pauses participation and tracks held bags.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus LOOPKIT_* env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
