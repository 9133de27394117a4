package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/session"
)

func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var entityType, from, to string
	var entityID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Review audit records, latest change first",
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
			records, err := a.Service.ListAuditRecords(ctx, domain.AuditFilter{
				EntityType: domain.EntityType(entityType),
				EntityID:   entityID,
				Range:      rng,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(records)
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "sales_entry|stock_entry|settlement|user_account")
	cmd.Flags().Int64Var(&entityID, "entity-id", 0, "entity id")
	cmd.Flags().StringVar(&from, "from", "", "first day, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records (0 for all)")
	return cmd
}

func NewNotificationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Read your notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			items, err := a.Service.ListNotifications(ctx)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(items)
		},
	}

	read := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification, or all of them, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				n, err := a.Service.MarkAllNotificationsRead(ctx)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(fmt.Sprintf("%d marked read", n))
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			item, err := a.Service.MarkNotificationRead(ctx, id)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(item)
		},
	}

	unread := &cobra.Command{
		Use:   "unread",
		Short: "Count unread notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			n, err := a.Service.UnreadNotifications(ctx)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(n)
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream new notifications as they arrive (needs Redis)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			actor, err := session.RequireActor(ctx, "watch notifications")
			if err != nil {
				return err
			}
			if a.Publisher == nil {
				return NewExitError(ExitCommandError, "notifications watch needs REDIS_ADDR")
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			stream, err := a.Publisher.Subscribe(ctx, actor.UserID)
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)
			for n := range stream {
				if err := out.Success(n); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(read, unread, watch)
	return cmd
}
