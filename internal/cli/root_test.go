package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ledgerctl", cmd.Use)
	assert.Contains(t, cmd.Long, "audit trail")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"schema"},
		{"login"},
		{"user", "create"},
		{"user", "update"},
		{"user", "list"},
		{"user", "find"},
		{"staff", "add"},
		{"staff", "list"},
		{"sales", "submit"},
		{"sales", "list"},
		{"sales", "update"},
		{"stock", "submit"},
		{"stock", "list"},
		{"stock", "update"},
		{"settle"},
		{"reopen"},
		{"summary"},
		{"audit"},
		{"notifications"},
		{"notifications", "read"},
		{"notifications", "unread"},
		{"notifications", "watch"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("token"))
}

func TestSalesUpdateFlags(t *testing.T) {
	cmd := NewRootCommand()
	updateCmd, _, err := cmd.Find([]string{"sales", "update"})
	require.NoError(t, err)

	for _, name := range []string{"bags1", "bags2", "notes", "reason"} {
		assert.NotNil(t, updateCmd.Flags().Lookup(name), "flag --%s", name)
	}
}

func TestAuditCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	auditCmd, _, err := cmd.Find([]string{"audit"})
	require.NoError(t, err)

	limitFlag := auditCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "100", limitFlag.DefValue)
	assert.NotNil(t, auditCmd.Flags().Lookup("entity-type"))
	assert.NotNil(t, auditCmd.Flags().Lookup("entity-id"))
}

func TestDateRangeRejectsBadDays(t *testing.T) {
	rng, err := dateRange("2024-01-02", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", rng.From.String())
	assert.True(t, rng.To.IsZero())

	_, err = dateRange("02/01/2024", "")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
