package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/app"
	"fieldledger/backend/internal/config"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/reconcile"
	"fieldledger/backend/internal/session"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newMemoryApp(t *testing.T) *app.App {
	t.Helper()
	t.Setenv("LEDGER_TOKEN", "")
	a, err := app.New(context.Background(), config.Config{
		Backend:             config.BackendMemory,
		PriceTier1:          reconcile.DefaultPriceTier1,
		PriceTier2:          reconcile.DefaultPriceTier2,
		StaffVisibilityDays: 2,
		PhoneRegion:         "NG",
		AuthSecret:          "0123456789abcdef0123456789abcdef",
		SessionTTLMinutes:   60,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// execute runs one ledgerctl invocation with JSON output and decodes its data into out.
func execute(t *testing.T, a *app.App, out any, args ...string) error {
	t.Helper()
	cmd := NewRootCommandWithApp(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--format", "json"}, args...))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return err
	}
	var env envelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env), "output %q", stdout.String())
	require.Equal(t, "ok", env.Status)
	// zero values are omitted from the envelope
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return nil
}

func login(t *testing.T, a *app.App, args ...string) string {
	t.Helper()
	var view loginView
	require.NoError(t, execute(t, a, &view, append([]string{"login"}, args...)...))
	require.NotEmpty(t, view.AccessToken)
	return view.AccessToken
}

func TestSettlementFlow(t *testing.T) {
	a := newMemoryApp(t)

	var director domain.UserAccount
	require.NoError(t, execute(t, a, &director, "user", "create", "--bootstrap", "--name", "Dayo", "--email", "dayo@example.com", "--password", "correct horse"))
	assert.Equal(t, domain.RoleDirector, director.Role)
	assert.Empty(t, director.PasswordHash)

	directorToken := login(t, a, "--email", "dayo@example.com", "--password", "correct horse")
	require.NoError(t, execute(t, a, nil, "--token", directorToken, "user", "create", "--name", "Bola", "--role", "receptionist", "--phone", "08031234567", "--pin", "4321"))
	clerkToken := login(t, a, "--phone", "08031234567", "--pin", "4321")

	var entry domain.SalesEntry
	require.NoError(t, execute(t, a, &entry, "--token", clerkToken, "sales", "submit", "--bags1", "10", "--bags2", "5"))
	assert.Equal(t, 15, entry.TotalBags)
	id := strconv.FormatInt(entry.ID, 10)

	err := execute(t, a, nil, "--token", clerkToken, "settle", id, "3850")
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	err = execute(t, a, nil, "--token", directorToken, "settle", "--", id, "-1")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	var partial reconcile.Result
	require.NoError(t, execute(t, a, &partial, "--token", directorToken, "settle", id, "2,000"))
	assert.True(t, partial.Settlement.RemainingBalance.Equal(decimal.NewFromInt(1850)))
	assert.False(t, partial.Completed)

	var full reconcile.Result
	require.NoError(t, execute(t, a, &full, "--token", directorToken, "settle", id, "3850", "--notes", "cash"))
	assert.True(t, full.Completed)
	assert.True(t, full.Settlement.IsSettled)

	var notes []domain.Notification
	require.NoError(t, execute(t, a, &notes, "--token", clerkToken, "notifications"))
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationSettlementComplete, notes[0].Type)

	var unread int
	require.NoError(t, execute(t, a, &unread, "--token", clerkToken, "notifications", "unread"))
	assert.Equal(t, 1, unread)
	require.NoError(t, execute(t, a, nil, "--token", clerkToken, "notifications", "read"))
	var after int
	require.NoError(t, execute(t, a, &after, "--token", clerkToken, "notifications", "unread"))
	assert.Zero(t, after)

	var days []domain.DailySummary
	require.NoError(t, execute(t, a, &days, "--token", directorToken, "summary"))
	require.Len(t, days, 1)
	assert.True(t, days[0].OutstandingTotal.IsZero())

	var records []domain.AuditRecord
	require.NoError(t, execute(t, a, &records, "--token", directorToken, "audit", "--entity-type", "settlement"))
	assert.NotEmpty(t, records)

	var reopened domain.Settlement
	require.NoError(t, execute(t, a, &reopened, "--token", directorToken, "reopen", id, "3000", "--reason", "counterfeit note"))
	assert.False(t, reopened.IsSettled)
}

func TestCorrectionFlow(t *testing.T) {
	a := newMemoryApp(t)
	require.NoError(t, execute(t, a, nil, "user", "create", "--bootstrap", "--name", "Dayo", "--email", "dayo@example.com", "--password", "correct horse"))
	directorToken := login(t, a, "--email", "dayo@example.com", "--password", "correct horse")
	require.NoError(t, execute(t, a, nil, "--token", directorToken, "user", "create", "--name", "Bola", "--role", "receptionist", "--phone", "08031234567", "--pin", "4321"))
	clerkToken := login(t, a, "--phone", "08031234567", "--pin", "4321")

	var entry domain.SalesEntry
	require.NoError(t, execute(t, a, &entry, "--token", clerkToken, "sales", "submit", "--bags1", "10"))
	id := strconv.FormatInt(entry.ID, 10)

	err := execute(t, a, nil, "--token", clerkToken, "sales", "update", id, "--bags1", "11", "--reason", "typo")
	require.ErrorIs(t, err, domain.ErrImmutable)
	err = execute(t, a, nil, "--token", directorToken, "sales", "update", id, "--bags1", "11")
	require.ErrorIs(t, err, domain.ErrReasonRequired)

	var updated domain.SalesEntry
	require.NoError(t, execute(t, a, &updated, "--token", directorToken, "sales", "update", id, "--bags1", "11", "--reason", "recount"))
	assert.Equal(t, 11, updated.TotalBags)

	var notes []domain.Notification
	require.NoError(t, execute(t, a, &notes, "--token", clerkToken, "notifications"))
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationEntryUpdated, notes[0].Type)
}

func TestCommandsNeedSession(t *testing.T) {
	a := newMemoryApp(t)

	err := execute(t, a, nil, "sales", "list")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	err = execute(t, a, nil, "--token", "not-a-token", "sales", "list")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	err = execute(t, a, nil, "login", "--phone", "08031234567", "--pin", "0000")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDeactivatedAccountLosesSession(t *testing.T) {
	a := newMemoryApp(t)
	require.NoError(t, execute(t, a, nil, "user", "create", "--bootstrap", "--name", "Dayo", "--email", "dayo@example.com", "--password", "correct horse"))
	directorToken := login(t, a, "--email", "dayo@example.com", "--password", "correct horse")
	var clerk domain.UserAccount
	require.NoError(t, execute(t, a, &clerk, "--token", directorToken, "user", "create", "--name", "Bola", "--role", "receptionist", "--phone", "08031234567", "--pin", "4321"))
	clerkToken := login(t, a, "--phone", "08031234567", "--pin", "4321")
	require.NoError(t, execute(t, a, nil, "--token", clerkToken, "sales", "submit", "--bags1", "10"))

	require.NoError(t, execute(t, a, nil, "--token", directorToken, "user", "update", strconv.FormatInt(clerk.ID, 10), "--active=false", "--reason", "left the company"))

	err := execute(t, a, nil, "--token", clerkToken, "sales", "submit", "--bags1", "10")
	require.ErrorIs(t, err, session.ErrInactiveAccount)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestErrorOutputFormats(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out}
	require.NoError(t, f.Error(domain.NotFound("sales_entry", 9)))

	var env struct {
		Status string   `json:"status"`
		Error  CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "not_found", env.Error.Code)
	assert.Equal(t, int64(9), env.Error.ID)

	out.Reset()
	f.Format = "yaml"
	require.NoError(t, f.Success(map[string]int{"entries": 2}))
	assert.Contains(t, out.String(), "status: ok")
	assert.Contains(t, out.String(), "entries: 2")
}
