package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifyhub/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	forceInit = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifyhub", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestSetAPIKeyRejectsEmptyKey(t *testing.T) {
	rootCmd.SetIn(bytes.NewBufferString("   \n"))
	_, err := execute(t, "set-api-key")
	assert.ErrorContains(t, err, "must not be empty")
}

func TestCommandTree(t *testing.T) {
	for _, name := range []string{"serve", "sync", "set-api-key", "config"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
