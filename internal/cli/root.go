package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"fieldledger/backend/internal/app"
	"fieldledger/backend/internal/config"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/logging"
	"fieldledger/backend/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"
	Token   string

	app    *app.App
	newApp func(ctx context.Context, verbose bool) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the ledgerctl command, building the application from
// the environment on first use.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{newApp: appFromEnv})
}

// NewRootCommandWithApp runs every command against an existing application.
func NewRootCommandWithApp(a *app.App) *cobra.Command {
	return newRootCommand(&RootOptions{app: a})
}

// Run executes ledgerctl with args and returns the process exit code. Errors
// are reported in the requested output format.
func Run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	opts := &RootOptions{newApp: appFromEnv}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if opts.app != nil {
		if cerr := opts.app.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "close ledger", cerr)
		}
	}
	if err == nil {
		return ExitSuccess
	}
	f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
	if !slices.Contains(ValidFormats, f.Format) {
		f.Format = "text"
	}
	_ = f.Error(err)
	return GetExitCode(err)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Field sales reconciliation ledger",
		Long: `ledgerctl records field sales and stock movements, reconciles money
received against what each sale should bring in, and keeps an append-only
audit trail of every correction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Token == "" {
				opts.Token = strings.TrimSpace(os.Getenv("LEDGER_TOKEN"))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "session token (defaults to $LEDGER_TOKEN)")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewStaffCommand(opts))
	cmd.AddCommand(NewSalesCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewReopenCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewNotificationsCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))

	return cmd
}

func appFromEnv(ctx context.Context, verbose bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger := logging.New(level, cfg.LogPretty)
	if err := validateSecurityConfig(cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid security configuration", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open ledger", err)
	}
	return a, nil
}

// validateSecurityConfig refuses to sign sessions with a guessable secret.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// application returns the ledger, opening it on first use.
func (o *RootOptions) application(cmd *cobra.Command) (*app.App, error) {
	if o.app != nil {
		return o.app, nil
	}
	a, err := o.newApp(cmd.Context(), o.Verbose)
	if err != nil {
		return nil, err
	}
	o.app = a
	return a, nil
}

// session opens the ledger and returns a context carrying the token's actor.
// Without a token the context has no actor and protected calls fail as
// unauthenticated.
func (o *RootOptions) session(cmd *cobra.Command) (context.Context, *app.App, error) {
	a, err := o.application(cmd)
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.Token == "" {
		return ctx, a, nil
	}
	actor, err := a.Sessions.Authenticate(ctx, o.Token)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "authenticate", err)
	}
	return session.WithActor(ctx, actor), a, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// dateRange reads --from and --to. Either may be empty.
func dateRange(from string, to string) (domain.DateRange, error) {
	var rng domain.DateRange
	if from != "" {
		d, err := domain.ParseDate(from)
		if err != nil {
			return rng, NewExitError(ExitCommandError, fmt.Sprintf("invalid --from: %v", err))
		}
		rng.From = d
	}
	if to != "" {
		d, err := domain.ParseDate(to)
		if err != nil {
			return rng, NewExitError(ExitCommandError, fmt.Sprintf("invalid --to: %v", err))
		}
		rng.To = d
	}
	return rng, nil
}
