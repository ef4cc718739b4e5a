// Counsel runs structured decision sessions with AI counselors.
//
// A session walks a question through the HOLD phases (Hear, Open, Leverage,
// Done) with one counselor or a rotating panel, and ends with a summary of
// the decisions taken.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "counsel",
	Short: "Counsel - decision sessions with AI counselors",
	Long: `Counsel runs decision sessions with one AI counselor or a debating panel.

  counsel serve                                      Start the server
  counsel start "Should we raise?" -p pragmatist     Start a solo session
  counsel start "Should we raise?" -p skeptic,visionary
  counsel turn <id>                                  Next counselor speaks
  counsel debate <id> --turns 6                      Run several turns
  counsel say <id> "what about hiring?"              Intervene
  counsel end <id>                                   Close and summarize
  counsel logs <id>                                  Stream session events`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("COUNSEL_SERVER", "http://localhost:7080"), "Counsel server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
