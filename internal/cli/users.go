package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/session"
)

type loginView struct {
	AccessToken string    `json:"access_token"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (v loginView) String() string {
	return v.AccessToken
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var creds session.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a session token",
		Long: `Exchange credentials for a session token.

Directors sign in with --email and --password, everyone else with --phone and --pin.
Export the printed token as LEDGER_TOKEN for later commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.application(cmd)
			if err != nil {
				return err
			}
			token, err := a.Sessions.Login(cmd.Context(), creds)
			if err != nil {
				return WrapExitError(ExitFailure, "login", err)
			}
			return rootOpts.formatter(cmd).Success(loginView{
				AccessToken: token.AccessToken,
				UserID:      token.Actor.UserID,
				Role:        string(token.Actor.Role),
				ExpiresAt:   token.ExpiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "director email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "director password")
	cmd.Flags().StringVar(&creds.Phone, "phone", "", "staff phone number")
	cmd.Flags().StringVar(&creds.PIN, "pin", "", "staff PIN")
	return cmd
}

func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
	}
	cmd.AddCommand(newUserCreateCommand(rootOpts))
	cmd.AddCommand(newUserUpdateCommand(rootOpts))
	cmd.AddCommand(newUserListCommand(rootOpts))
	cmd.AddCommand(newUserFindCommand(rootOpts))
	return cmd
}

func newUserCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req       domain.NewUserRequest
		role      string
		bootstrap bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long: `Create an account.

Use --bootstrap on an empty ledger to create the first director without a session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			req.Role = domain.Role(role)
			var user domain.UserAccount
			if bootstrap {
				user, err = a.Service.BootstrapDirector(ctx, req)
			} else {
				user, err = a.Service.CreateUser(ctx, req)
			}
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(user)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "director|manager|receptionist|storekeeper")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&req.Email, "email", "", "email (directors)")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (directors)")
	cmd.Flags().StringVar(&req.PIN, "pin", "", "4-6 digit PIN (other roles)")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "create the first director of an empty ledger")
	return cmd
}

func newUserUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, phone, email, role, password, pin, reason string
	var active, twoFactor bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an account with an audited reason",
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
			var req domain.UserUpdateRequest
			flags := cmd.Flags()
			if flags.Changed("name") {
				req.Name = &name
			}
			if flags.Changed("phone") {
				req.Phone = &phone
			}
			if flags.Changed("email") {
				req.Email = &email
			}
			if flags.Changed("role") {
				r := domain.Role(role)
				req.Role = &r
			}
			if flags.Changed("active") {
				req.IsActive = &active
			}
			if flags.Changed("two-factor") {
				req.TwoFactorEnabled = &twoFactor
			}
			if flags.Changed("password") {
				req.Password = &password
			}
			if flags.Changed("pin") {
				req.PIN = &pin
			}
			user, err := a.Service.UpdateUser(ctx, id, req, reason)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(user)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().BoolVar(&active, "active", true, "whether the account may sign in")
	cmd.Flags().BoolVar(&twoFactor, "two-factor", false, "two-factor sign in")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&pin, "pin", "", "new PIN")
	cmd.Flags().StringVar(&reason, "reason", "", "why the account changes (required)")
	return cmd
}

func newUserListCommand(rootOpts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			users, err := a.Service.ListUsers(ctx, domain.Role(role))
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(users)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only this role")
	return cmd
}

func newUserFindCommand(rootOpts *RootOptions) *cobra.Command {
	var phone string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find an account by phone number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			user, err := a.Service.FindUserByPhone(ctx, phone)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(user)
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func NewStaffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage driver and packer profiles",
	}

	var req domain.StaffProfileRequest
	var kind string
	var userID int64
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a staff profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			req.Kind = domain.StaffKind(kind)
			if cmd.Flags().Changed("user-id") {
				req.UserID = &userID
			}
			profile, err := a.Service.CreateStaffProfile(ctx, req)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(profile)
		},
	}
	add.Flags().StringVar(&req.Name, "name", "", "display name")
	add.Flags().StringVar(&kind, "kind", "driver", "driver|packer")
	add.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&req.Route, "route", "", "assigned route")
	add.Flags().Int64Var(&userID, "user-id", 0, "linked account")

	var listKind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List staff profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.session(cmd)
			if err != nil {
				return err
			}
			profiles, err := a.Service.ListStaff(ctx, domain.StaffKind(listKind))
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(profiles)
		},
	}
	list.Flags().StringVar(&listKind, "kind", "", "only this kind")

	cmd.AddCommand(add, list)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}
