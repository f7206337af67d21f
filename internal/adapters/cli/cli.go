// Package cli implements afmsctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"afms/internal/config"
	"afms/internal/core"
	"afms/internal/logger"
	"afms/internal/platform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env is shared by every subcommand. The platform is built on first use so
// that commands like "secrets check" never touch the store.
type env struct {
	cfg *config.Config
	log *zap.Logger
	p   *platform.Platform

	// build is replaceable in tests.
	build func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*platform.Platform, error)
}

func (e *env) platform(ctx context.Context) (*platform.Platform, error) {
	if e.p != nil {
		return e.p, nil
	}
	p, err := e.build(ctx, e.cfg, e.log)
	if err != nil {
		return nil, err
	}
	e.p = p
	return p, nil
}

// NewRootCommand creates the afmsctl root command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	e := &env{
		build: func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*platform.Platform, error) {
			return platform.Build(ctx, cfg, log, nil)
		},
	}
	return newRoot(e)
}

func newRoot(e *env) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "afmsctl",
		Short: "Operate the AFMS accounting backend",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg == nil {
				e.cfg = config.Load()
			}
			if e.log == nil {
				level := logLevel
				if level == "" {
					level = e.cfg.LogLevel
				}
				log, err := logger.New("afmsctl", e.cfg.Environment, level)
				if err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				e.log = log
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			if e.p != nil {
				return e.p.Close(cmd.Context())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newMigrateCommand(e),
		newRBACCommand(e),
		newRatesCommand(e),
		newReportsCommand(e),
		newCompanyCommand(e),
		newSecretsCommand(e),
	)
	return root
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTrialBalance(w io.Writer, tb *core.TrialBalance) {
	p := tb.Precision
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 78))
	fmt.Fprintf(w, "  %-74s\n", "TRIAL BALANCE")
	fmt.Fprintf(w, "  Company  : %s\n", tb.CompanyName)
	fmt.Fprintf(w, "  Currency : %s    As of: %s\n", tb.Currency, tb.AsOf.Format(core.DateLayout))
	fmt.Fprintln(w, strings.Repeat("=", 78))
	fmt.Fprintf(w, "  %-10s %-34s %14s %14s\n", "NUMBER", "NAME", "DEBIT", "CREDIT")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, l := range tb.Lines {
		fmt.Fprintf(w, "  %-10s %-34s %14s %14s\n", l.AccountNumber, truncate(l.AccountName, 34),
			l.DebitBalance.StringFixed(p), l.CreditBalance.StringFixed(p))
	}
	fmt.Fprintln(w, strings.Repeat("-", 78))
	fmt.Fprintf(w, "  %-45s %14s %14s\n", "TOTAL", tb.TotalDebits.StringFixed(p), tb.TotalCredits.StringFixed(p))
	if !tb.IsBalanced {
		fmt.Fprintf(w, "  OUT OF BALANCE by %s\n", tb.Difference.String())
	}
	fmt.Fprintln(w, strings.Repeat("=", 78))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
