package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func resolveWithArgs(t *testing.T, args []string) (Config, error) {
	var resolved Config
	var resolveErr error

	app := &cli.Command{
		Name:  "textboardd",
		Flags: Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			resolved, resolveErr = Resolve(cmd)
			return nil
		},
	}

	require.NoError(t, app.Run(context.Background(), append([]string{"textboardd"}, args...)))
	return resolved, resolveErr
}

func TestResolveUsesDefaultsWithNoFlagsOrFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := resolveWithArgs(t, []string{"--config", filepath.Join(dir, "missing.cfg")})
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Port)
	assert.Equal(t, "utf-8", cfg.Charset)
}

func TestResolveFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "server.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("port=5000\ncharset=iso-8859-1\n# a comment\n\n"), 0o644))

	cfg, err := resolveWithArgs(t, []string{"--config", cfgPath})
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "iso-8859-1", cfg.Charset)
}

func TestResolveCmdlineOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "server.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("port=5000\n"), 0o644))

	cfg, err := resolveWithArgs(t, []string{"--config", cfgPath, "--port", "6000"})
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
}

func TestResolveRejectsOutOfRangePort(t *testing.T) {
	dir := t.TempDir()

	_, err := resolveWithArgs(t, []string{
		"--config", filepath.Join(dir, "missing.cfg"),
		"--port", "99999",
	})
	assert.Error(t, err)
}

func TestReadKeyValueFileRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.cfg")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pair\n"), 0o644))

	_, err := readKeyValueFile(path)
	assert.Error(t, err)
}

func TestReadKeyValueFileMissingIsNotAnError(t *testing.T) {
	values, err := readKeyValueFile("/nonexistent/path/server.cfg")
	require.NoError(t, err)
	assert.Empty(t, values)
}
