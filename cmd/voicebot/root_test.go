package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/memory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicebot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigPrint(t *testing.T) {
	path := writeConfig(t, "[bot]\ntriggers = [\"jarvis\"]\n")
	out, err := run(t, "--config", path, "config", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "[bot]")
	assert.Contains(t, out, "jarvis")
}

func TestToolsCall(t *testing.T) {
	path := writeConfig(t, "[tools]\nendpoint = \"\"\n")

	out, err := run(t, "--config", path, "tools", "call", "calculate", `{"expression":"2 + 2 * 3"}`)
	require.NoError(t, err)
	assert.Equal(t, "The result of 2 + 2 * 3 is 8\n", out)

	_, err = run(t, "--config", path, "tools", "call", "search_web", `{"query":"x"}`)
	assert.Error(t, err)

	out, err = run(t, "--config", path, "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "roll_dice")
	assert.NotContains(t, out, "search_web")
}

func TestMemoryListAndRemove(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bot.db")
	store, err := memory.OpenSQLite(db, log.Nop())
	require.NoError(t, err)
	id, err := store.Save(context.Background(), memory.Record{OwnerID: "ann", SessionID: "s1", Keywords: []string{"guitar"}, Summary: "Ann plays guitar"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	path := writeConfig(t, "[memory]\npath = \""+filepath.ToSlash(db)+"\"\n")

	out, err := run(t, "--config", path, "memory", "list", "--owner", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "Ann plays guitar")

	out, err = run(t, "--config", path, "memory", "rm", strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted memory")

	_, err = run(t, "--config", path, "memory", "rm", strconv.FormatInt(id, 10))
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = run(t, "--config", path, "memory", "rm", "abc")
	assert.Error(t, err)
}
