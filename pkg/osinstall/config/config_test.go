package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
template = "http://templates.internal/node.json"
scratch_dir = "/scratch"
nbd_device = "nbd4"
command_timeout = "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://templates.internal/node.json", cfg.Template)
	require.Equal(t, "/scratch", cfg.ScratchDir)
	require.Equal(t, "nbd4", cfg.NBDDevice)

	// untouched keys keep their defaults
	require.Equal(t, "/mnt/osinstall/target", cfg.TargetDir)
	require.Equal(t, "/mnt/osinstall/source", cfg.SourceDir)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("template = [broken"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}

func TestTimeout(t *testing.T) {
	cfg := Default()
	d, err := cfg.Timeout()
	require.NoError(t, err)
	require.Zero(t, d)

	cfg.CommandTimeout = "90s"
	d, err = cfg.Timeout()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	cfg.CommandTimeout = "soon"
	_, err = cfg.Timeout()
	require.Error(t, err)
}
