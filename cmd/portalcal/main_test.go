package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalcal/internal/model"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "portalcal.yaml")
	body := "backend:\n  base_url: http://127.0.0.1:1\nstore:\n  driver: sqlite\n  path: " +
		filepath.Join(dir, "snap.db") + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEventCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "event", "add", "--config", cfg, "--id", "l1", "--title", "Study group",
		"--date", "2025-03-11", "--time", "18:00", "--type", "meeting")
	require.NoError(t, err)
	var created model.Event
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, model.OriginLocal, created.Origin)

	_, err = run(t, "event", "add", "--config", cfg, "--title", "Bad", "--date", "tomorrow", "--time", "18:00")
	assert.ErrorIs(t, err, model.ErrInvalidEvent)

	out, err = run(t, "event", "list", "--config", cfg, "--json")
	require.NoError(t, err)
	var events []model.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "l1", events[0].ID)

	out, err = run(t, "export", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY:Study group")

	_, err = run(t, "event", "rm", "--config", cfg, "l1")
	require.NoError(t, err)
	out, err = run(t, "event", "list", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "l1")
}
