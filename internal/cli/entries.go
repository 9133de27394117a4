package cli

import (
	"github.com/spf13/cobra"

	"fieldledger/backend/internal/domain"
)

func NewSalesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sales",
		Short: "Submit, list and correct sales entries",
	}
	cmd.AddCommand(newSalesSubmitCommand(rootOpts))
	cmd.AddCommand(newSalesListCommand(rootOpts))
	cmd.AddCommand(newSalesUpdateCommand(rootOpts))
	return cmd
}

func newSalesSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var req domain.SalesSubmission
	var date, saleType string
	var driverID int64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a sales entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			if date != "" {
				rng, err := dateRange(date, "")
				if err != nil {
					return err
				}
				req.Date = rng.From
			}
			req.SaleType = domain.SaleType(saleType)
			if cmd.Flags().Changed("driver-id") {
				req.DriverID = &driverID
			}
			entry, err := a.Service.SubmitSales(ctx, req)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entry)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "sale date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&saleType, "type", string(domain.SaleTypeGeneral), "driver|general|mini_store")
	cmd.Flags().Int64Var(&driverID, "driver-id", 0, "driver staff profile id")
	cmd.Flags().StringVar(&req.DriverName, "driver-name", "", "driver name")
	cmd.Flags().IntVar(&req.BagsAtPrice1, "bags1", 0, "bags sold at price tier 1")
	cmd.Flags().IntVar(&req.BagsAtPrice2, "bags2", 0, "bags sold at price tier 2")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes")
	return cmd
}

func newSalesListCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string
	var driverID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sales entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			var entries []domain.SalesEntry
			if cmd.Flags().Changed("driver-id") {
				entries, err = a.Service.ListSalesByDriver(ctx, driverID)
			} else {
				rng, rerr := dateRange(from, to)
				if rerr != nil {
					return rerr
				}
				entries, err = a.Service.ListSales(ctx, rng)
			}
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entries)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	cmd.Flags().Int64Var(&driverID, "driver-id", 0, "only this driver's sales")
	return cmd
}

func newSalesUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var bags1, bags2 int
	var notes, reason string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct a submitted sales entry with an audited reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			var patch domain.SalesEntryPatch
			if cmd.Flags().Changed("bags1") {
				patch.BagsAtPrice1 = &bags1
			}
			if cmd.Flags().Changed("bags2") {
				patch.BagsAtPrice2 = &bags2
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			entry, err := a.Service.UpdateSales(ctx, id, patch, reason)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entry)
		},
	}
	cmd.Flags().IntVar(&bags1, "bags1", 0, "bags at price tier 1")
	cmd.Flags().IntVar(&bags2, "bags2", 0, "bags at price tier 2")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&reason, "reason", "", "why the entry is corrected (required)")
	return cmd
}

func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Submit, list and correct stock entries",
	}
	cmd.AddCommand(newStockSubmitCommand(rootOpts))
	cmd.AddCommand(newStockListCommand(rootOpts))
	cmd.AddCommand(newStockUpdateCommand(rootOpts))
	return cmd
}

func newStockSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var req domain.StockSubmission
	var date, entryType string
	var driverID int64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a stock entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			if date != "" {
				rng, err := dateRange(date, "")
				if err != nil {
					return err
				}
				req.Date = rng.From
			}
			req.EntryType = domain.StockEntryType(entryType)
			if cmd.Flags().Changed("driver-id") {
				req.DriverID = &driverID
			}
			entry, err := a.Service.SubmitStock(ctx, req)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entry)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "entry date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&entryType, "type", "", "driver_pickup|general_sales|packer_production|ministore_pickup")
	cmd.Flags().Int64Var(&driverID, "driver-id", 0, "driver staff profile id")
	cmd.Flags().StringVar(&req.PackerName, "packer", "", "packer name")
	cmd.Flags().IntVar(&req.BagsCount, "bags", 0, "bag count")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newStockListCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to, entryType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stock entries, newest first",
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
			var entries []domain.StockEntry
			if entryType != "" {
				entries, err = a.Service.ListStockByType(ctx, domain.StockEntryType(entryType), rng)
			} else {
				entries, err = a.Service.ListStock(ctx, rng)
			}
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entries)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	cmd.Flags().StringVar(&entryType, "type", "", "only this entry type")
	return cmd
}

func newStockUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var bags int
	var notes, reason string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct a submitted stock entry with an audited reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			var patch domain.StockEntryPatch
			if cmd.Flags().Changed("bags") {
				patch.BagsCount = &bags
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			entry, err := a.Service.UpdateStock(ctx, id, patch, reason)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(entry)
		},
	}
	cmd.Flags().IntVar(&bags, "bags", 0, "bag count")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&reason, "reason", "", "why the entry is corrected (required)")
	return cmd
}
