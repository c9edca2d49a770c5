package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"recalculate", "estimates", "funding", "triangle", "runs", "import", "serve", "schedule", "worker"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ibnr", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRecalculateCommand_Flags(t *testing.T) {
	for _, name := range []string{"as-of", "snapshot", "category", "dry-run", "json", "xlsx"} {
		require.NotNil(t, recalculateCmd.Flags().Lookup(name), "recalculate should have --%s", name)
	}
	assert.Equal(t, "false", recalculateCmd.Flags().Lookup("dry-run").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q", name)
	}
	assert.Equal(t, "50", runsListCmd.Flags().Lookup("limit").DefValue)
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range importCmd.Commands() {
		names[c.Name()] = true
		require.NotNil(t, c.Flags().Lookup("sheet"))
		require.NotNil(t, c.Flags().Lookup("batch-size"))
	}
	for _, name := range []string{"transactions", "inputs", "balances", "case-reserves"} {
		assert.True(t, names[name], "expected import subcommand %q", name)
	}
}

func TestTriangleCommand_Args(t *testing.T) {
	assert.Error(t, triangleCmd.Args(triangleCmd, nil))
	assert.NoError(t, triangleCmd.Args(triangleCmd, []string{"Medical"}))
}
