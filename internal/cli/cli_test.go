package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/claim4me/internal/app"
	"github.com/ibeckermayer/claim4me/internal/config"
)

func loadEnv(t *testing.T, args ...string) *Env {
	t.Helper()
	env := NewEnv()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, env.BindFlags(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse(args))
	require.NoError(t, env.Load())
	return env
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	env := loadEnv(t, "--config", path, "--no-file-log")

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, env.Config().Browser.Headless)
	assert.False(t, env.Config().Debug.DryRun)
}

func TestFlagAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.Default().Save(path))

	t.Setenv("CLAIM4ME_SHOPEE_USERNAME", "alice")
	t.Setenv("CLAIM4ME_SHOPEE_PASSWORD", "s3cret")
	t.Setenv("CLAIM4ME_INTERACTIVE", "false")

	env := loadEnv(t, "-c", path, "--dry-run", "--headless=false", "--no-file-log")
	cfg := env.Config()

	assert.True(t, cfg.Debug.DryRun)
	assert.False(t, cfg.Browser.Headless)
	assert.False(t, cfg.Auth.Interactive)
	assert.Equal(t, "alice", cfg.Sites["shopee"].Username)
	assert.Equal(t, "s3cret", cfg.Sites["shopee"].Password)
	assert.Empty(t, cfg.Sites["momo"].Username)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[wait]\ntimeout = \"0s\"\n"), 0600))

	env := NewEnv()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, env.BindFlags(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"-c", path}))
	assert.Error(t, env.Load())
}

func TestParseFlow(t *testing.T) {
	f, err := ParseFlow("shopee", "coupons")
	require.NoError(t, err)
	assert.Equal(t, app.ShopeeCoupons, f)

	_, err = ParseFlow("momo", "coin")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"shopee", "coin"},
		{"shopee", "coupons"},
		{"shopee", "sales"},
		{"momo", "daily"},
		{"all"},
		{"logout"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
