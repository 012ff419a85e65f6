package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"eventnet/internal/config"
	"eventnet/internal/models"
	"eventnet/internal/queue"
	"eventnet/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agent.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "backend:\n  base_url: http://localhost:9999\nstorage:\n  driver: sqlite\n  path: " + dbPath + "\nlogging:\n  output: stderr\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath, dbPath
}

func seedQueue(t *testing.T, dbPath string, targets ...string) {
	t.Helper()
	logger := zerolog.Nop()
	kv, err := storage.NewSQLiteKV(dbPath, &logger)
	require.NoError(t, err)
	defer kv.Close()

	q := queue.New(kv, nil, nil, config.QueueConfig{}, &logger)
	for _, target := range targets {
		_, err := q.Add(context.Background(), models.ActionPayload{Method: "POST", Target: target})
		require.NoError(t, err)
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := BuildCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, Version+"\n", execute(t, "version"))
}

func TestQueueListAndClear(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	seedQueue(t, dbPath, "/api/v1/polls/1/vote", "/api/v1/connections")

	out := execute(t, "--config", cfgPath, "queue", "list")
	assert.Contains(t, out, "/api/v1/polls/1/vote")
	assert.Contains(t, out, "/api/v1/connections")
	assert.Contains(t, out, "pending")

	out = execute(t, "--config", cfgPath, "queue", "clear")
	assert.Contains(t, out, "cleared 2 action(s)")

	out = execute(t, "--config", cfgPath, "queue", "list")
	assert.NotContains(t, out, "/api/v1/polls/1/vote")
}

func TestNotificationsExport(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	seedQueue(t, dbPath, "/api/v1/polls/1/vote")
	target := filepath.Join(t.TempDir(), "out", "export.xlsx")

	out := execute(t, "--config", cfgPath, "notifications", "export", "-o", target)
	assert.Contains(t, out, target)

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Queue")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1], "/api/v1/polls/1/vote")
}

func TestMissingConfigFails(t *testing.T) {
	cmd := BuildCLI()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "queue", "list"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
