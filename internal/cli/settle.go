package cli

import (
	"github.com/spf13/cobra"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/reconcile"
)

func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "settle <sales-entry-id> <amount>",
		Short: "Record money received against a sales entry",
		Long: `Record money received against a sales entry.

The amount replaces any amount recorded before. When the balance reaches zero
the entry is settled and its submitter is notified.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := reconcile.ParseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			res, err := a.Service.RecordSettlement(ctx, domain.SettlementRequest{
				SalesEntryID:  id,
				SettledAmount: amount,
				Notes:         notes,
			})
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(res)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func NewReopenCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <sales-entry-id> <amount>",
		Short: "Lower the amount of a settled entry so a balance is outstanding again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := reconcile.ParseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			settlement, err := a.Service.ReopenSettlement(ctx, id, amount, reason)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(settlement)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the settlement is reopened (required)")
	return cmd
}

func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Per-day totals of sales, settlements and outstanding balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			rng, err := dateRange(from, to)
			if err != nil {
				return err
			}
			days, err := a.Service.DailySummary(ctx, rng)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(days)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	return cmd
}
