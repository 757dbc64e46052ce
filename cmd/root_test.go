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

	for _, name := range []string{"serve", "migrate", "seed", "predict", "triage", "queue", "monitor"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "pipeline-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestQueueCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range queueCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "execute", "outcome", "sweep"} {
		assert.True(t, names[name], "queue should have subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   string
		flag  string
		deflt string
	}{
		{"serve", "port", "0"},
		{"serve", "schedule", "false"},
		{"seed", "fixtures", ""},
		{"predict", "id", "[]"},
		{"predict", "nba", "false"},
		{"triage", "limit", "0"},
		{"triage", "format", "table"},
		{"triage", "persist", "false"},
		{"monitor", "dry-run", "false"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f, "%s should have --%s", tt.cmd, tt.flag)
			assert.Equal(t, tt.deflt, f.DefValue)
		})
	}
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("table", ""))
	assert.NoError(t, checkFormat("json", ""))
	assert.NoError(t, checkFormat("csv", ""))
	assert.NoError(t, checkFormat("xlsx", "out.xlsx"))
	assert.Error(t, checkFormat("xlsx", ""))
	assert.Error(t, checkFormat("yaml", ""))
}
