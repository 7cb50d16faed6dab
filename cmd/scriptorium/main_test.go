package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "mcp", "watch", "ingest", "query", "documents", "providers", "config", "health", "version", "monitor"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	cmd, _, err := rootCmd.Find([]string{"docs", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", cmd.Name())
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "scriptorium by Fyrsmith Labs")
	assert.Contains(t, out, "Version:    "+version)
	assert.Contains(t, out, "Commit:     "+gitCommit)
}

func TestCredentialsFor(t *testing.T) {
	cfg := config.NewDefaultConfig()
	pc, ok := cfg.Providers.Get("openai")
	require.True(t, ok)
	pc.APIKey = config.Secret("sk-test")

	creds, err := credentialsFor(cfg, []string{"openai", "unknown"}, false)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", creds["openai"])
	assert.Empty(t, creds["unknown"])
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "abcd…", excerpt("abcdefghij", 5))
	assert.Equal(t, "dhar…", excerpt("dharmakāya", 5))
}
