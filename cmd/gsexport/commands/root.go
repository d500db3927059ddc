package commands

import (
	"context"
	"fmt"
	"os"

	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	session *string
	token   *string
	verbose *bool
)

var rootCmd = &cobra.Command{
	Use:   "gsexport",
	Short: "gsexport exports your gradescope submissions into a zip archive.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	session = rootCmd.PersistentFlags().StringP(
		"session", "s", "",
		"Your gradescope _gradescope_session cookie.",
	)
	token = rootCmd.PersistentFlags().StringP(
		"token", "t", "",
		"Your gradescope signed_token cookie.",
	)
	verbose = rootCmd.PersistentFlags().BoolP(
		"verbose", "v", false,
		"Enable debug logging.",
	)
}

// Config is the optional gsexport.json5 alternative to passing the cookie
// values as flags on every invocation.
type Config struct {
	Session string `json:"session"`
	Token   string `json:"token"`
}

func resolveSession(cfg Config) (gradescope.Session, error) {
	resolved := gradescope.Session{Cookie: cfg.Session, Token: cfg.Token}
	if *session != "" {
		resolved.Cookie = *session
	}
	if *token != "" {
		resolved.Token = *token
	}
	if resolved.Cookie == "" || resolved.Token == "" {
		return gradescope.Session{}, fmt.Errorf(
			"both session cookies are required, pass -s/-t or put them in gsexport.json5",
		)
	}
	return resolved, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
