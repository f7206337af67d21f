package cli

import (
	"errors"
	"fmt"

	"afms/internal/app"
	"afms/internal/core"
	"afms/internal/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (Postgres) or indexes (Mongo)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := p.DB.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}

func newRBACCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Role-based access control maintenance",
	}

	var su core.SuperadminInput
	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed permissions, roles and menus and upsert the superadmin",
		Long: "Seed permissions, roles and menus and upsert the superadmin.\n" +
			"The superadmin defaults to SUPERADMIN_EMAIL and SUPERADMIN_PASSWORD. Safe to rerun.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if su.Email == "" {
				su.Email = e.cfg.SuperadminEmail
			}
			if su.Password == "" {
				su.Password = e.cfg.SuperadminPassword
			}
			if su.Email != "" && su.Password == "" {
				return errors.New("a superadmin password is required (--password or SUPERADMIN_PASSWORD)")
			}
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.App.BootstrapRBAC(cmd.Context(), app.SystemActor, su)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	bootstrap.Flags().StringVar(&su.Email, "email", "", "superadmin email")
	bootstrap.Flags().StringVar(&su.Name, "name", "", "superadmin display name")
	bootstrap.Flags().StringVar(&su.Password, "password", "", "superadmin password")

	cmd.AddCommand(bootstrap)
	return cmd
}

func newRatesCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Exchange rate maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch today's rates for each base currency not yet stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.App.RefreshRates(cmd.Context(), app.SystemActor)
			if res != nil {
				_ = printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	})
	return cmd
}

func newReportsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Financial reports and report schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run-due",
		Short: "Generate every report schedule that is due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			n, err := p.App.RunDueReports(cmd.Context(), app.SystemActor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d scheduled report(s) generated\n", n)
			return nil
		},
	})

	var (
		req    app.ReportRequest
		asJSON bool
	)
	tb := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print a company's trial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			result, err := p.App.TrialBalance(cmd.Context(), app.SystemActor, req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printTrialBalance(cmd.OutOrStdout(), result)
			return nil
		},
	}
	tb.Flags().StringVar(&req.CompanyID, "company", "", "company id (required)")
	tb.Flags().StringVar(&req.AsOf, "as-of", "", "report date, YYYY-MM-DD (default today)")
	tb.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = tb.MarkFlagRequired("company")
	cmd.AddCommand(tb)

	return cmd
}

func newCompanyCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Tenant administration",
	}

	var in core.CompanyInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			c, err := p.App.CreateCompany(cmd.Context(), app.SystemActor, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
	create.Flags().StringVar(&in.Code, "code", "", "short company code (required)")
	create.Flags().StringVar(&in.Name, "name", "", "legal name (required)")
	create.Flags().StringVar(&in.BaseCurrency, "currency", "USD", "ISO 4217 base currency")
	create.Flags().BoolVar(&in.SeedChart, "seed-chart", true, "create the default chart of accounts")
	_ = create.MarkFlagRequired("code")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := e.platform(cmd.Context())
			if err != nil {
				return err
			}
			companies, err := p.App.ListCompanies(cmd.Context(), app.SystemActor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), companies)
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newSecretsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Secret hygiene",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configured secrets without starting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Fprintf(out, "FAIL  %-20s %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "ok    %s\n", name)
			}

			report("config", e.cfg.Validate())
			if e.cfg.SuperadminPassword != "" {
				report("SUPERADMIN_PASSWORD", security.ValidatePassword(e.cfg.SuperadminPassword))
			}
			if ok, reason := e.cfg.AIEnabled(); !ok {
				// A missing or malformed key only disables AI features.
				fmt.Fprintf(out, "warn  %-20s %v\n", "OPENAI_API_KEY", reason)
			} else {
				report("OPENAI_API_KEY", nil)
			}

			if failed {
				e.log.Warn("secret check failed")
				return errors.New("one or more secrets are invalid")
			}
			e.log.Debug("secret check passed", zap.String("environment", e.cfg.Environment))
			return nil
		},
	})
	return cmd
}
