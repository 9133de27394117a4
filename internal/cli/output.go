package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/reconcile"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The ledger refused the operation
	ExitCommandError = 2 // Bad flags, configuration or storage
)

// ExitError carries the exit code a failed command should end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Ledger errors exit with
// ExitFailure, anything else unexpected with ExitCommandError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var ledgerErr *domain.Error
	if errors.As(err, &ledgerErr) {
		return ExitFailure
	}
	return ExitCommandError
}

// OutputFormatter renders command results as text, JSON or YAML.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the envelope for JSON and YAML output.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (f *OutputFormatter) Success(data any) error {
	switch f.Format {
	case "json":
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	case "yaml":
		return f.writeYAML(CLIResponse{Status: "ok", Data: data})
	}
	return renderText(f.Writer, data)
}

// Error reports err in the configured format. Text goes to ErrWriter.
func (f *OutputFormatter) Error(err error) error {
	cliErr := &CLIError{Code: "error", Message: err.Error()}
	var ledgerErr *domain.Error
	if errors.As(err, &ledgerErr) {
		cliErr.Code = string(ledgerErr.Kind)
		cliErr.Entity = ledgerErr.Entity
		cliErr.ID = ledgerErr.ID
		cliErr.Field = ledgerErr.Field
	}
	switch f.Format {
	case "json":
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	case "yaml":
		return f.writeYAML(CLIResponse{Status: "error", Error: cliErr})
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	_, werr := fmt.Fprintf(w, "Error: %s\n", err)
	return werr
}

// writeYAML goes through JSON first so YAML keys match the JSON field names.
func (f *OutputFormatter) writeYAML(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(f.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func renderText(w io.Writer, data any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch v := data.(type) {
	case []domain.SalesEntry:
		fmt.Fprintln(tw, "ID\tDATE\tTYPE\tDRIVER\tP1\tP2\tTOTAL\tBY")
		for _, e := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n", e.ID, e.Date, e.SaleType, e.DriverName, e.BagsAtPrice1, e.BagsAtPrice2, e.TotalBags, e.SubmittedBy)
		}
	case domain.SalesEntry:
		return renderText(w, []domain.SalesEntry{v})
	case []domain.StockEntry:
		fmt.Fprintln(tw, "ID\tDATE\tTYPE\tBAGS\tPACKER\tBY")
		for _, e := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n", e.ID, e.Date, e.EntryType, e.BagsCount, e.PackerName, e.SubmittedBy)
		}
	case domain.StockEntry:
		return renderText(w, []domain.StockEntry{v})
	case reconcile.Result:
		if err := renderText(w, v.Settlement); err != nil {
			return err
		}
		if v.Completed {
			fmt.Fprintln(w, "settlement complete; submitter notified")
		}
		return nil
	case domain.Settlement:
		return renderText(w, []domain.Settlement{v})
	case []domain.Settlement:
		fmt.Fprintln(tw, "ID\tSALE\tDATE\tEXPECTED\tSETTLED\tREMAINING\tSETTLED?")
		for _, s := range v {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.SalesEntryID, s.Date, s.ExpectedAmount.StringFixed(2), s.SettledAmount.StringFixed(2), s.RemainingBalance.StringFixed(2), s.IsSettled)
		}
	case []domain.AuditRecord:
		fmt.Fprintln(tw, "ID\tWHEN\tENTITY\tACTION\tFIELD\tOLD\tNEW\tBY\tREASON")
		for _, r := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s #%d\t%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.ChangedAt.Format("2006-01-02 15:04:05"), r.EntityType, r.EntityID, r.Action, r.Field, deref(r.OldValue), deref(r.NewValue), r.ChangedBy, r.Reason)
		}
	case []domain.Notification:
		fmt.Fprintln(tw, "ID\tWHEN\tTYPE\tREAD\tTITLE\tMESSAGE")
		for _, n := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", n.ID, n.CreatedAt.Format("2006-01-02 15:04"), n.Type, n.IsRead, n.Title, n.Message)
		}
	case domain.Notification:
		return renderText(w, []domain.Notification{v})
	case []domain.UserAccount:
		fmt.Fprintln(tw, "ID\tNAME\tROLE\tPHONE\tEMAIL\tACTIVE")
		for _, u := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", u.ID, u.Name, u.Role, u.Phone, u.Email, u.IsActive)
		}
	case domain.UserAccount:
		return renderText(w, []domain.UserAccount{v})
	case []domain.StaffProfile:
		fmt.Fprintln(tw, "ID\tNAME\tKIND\tPHONE\tROUTE\tACTIVE")
		for _, s := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.Name, s.Kind, s.Phone, s.Route, s.IsActive)
		}
	case domain.StaffProfile:
		return renderText(w, []domain.StaffProfile{v})
	case []domain.DailySummary:
		fmt.Fprintln(tw, "DATE\tENTRIES\tBAGS\tEXPECTED\tSETTLED\tOUTSTANDING\tUNSETTLED")
		for _, d := range v {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%d\n", d.Date, d.Entries, d.TotalBags, d.ExpectedAmount.StringFixed(2), d.SettledAmount.StringFixed(2), d.OutstandingTotal.StringFixed(2), d.UnsettledEntries)
		}
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, v.String())
		return err
	default:
		_, err := fmt.Fprintln(w, data)
		return err
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return strings.ReplaceAll(*s, "\t", " ")
}
