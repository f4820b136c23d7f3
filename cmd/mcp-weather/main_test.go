package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-weather/pkg/auth"
	"github.com/txn2/mcp-weather/pkg/platform"
)

const (
	testEmail  = "ops@example.com"
	testAPIKey = "cli-test-key"
	testSecret = "cli-test-secret"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	t.Cleanup(func() { configPath = "" })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "weather.db"))
	t.Setenv("JWT_SECRET", testSecret)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mcp-weather version dev\n", out)
}

func TestMigrateCmds(t *testing.T) {
	useSQLite(t)

	out, err := execute(t, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "schema version 0\n", out)

	out, err = execute(t, "migrate", "up")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^schema version [1-9]\d*\n$`), out)

	out, err = execute(t, "migrate", "down", "--steps", "1")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^schema version \d+\n$`), out)

	out, err = execute(t, "migrate", "down")
	require.NoError(t, err)
	assert.Equal(t, "schema version 0\n", out)
}

func TestTenantAndTokenCmds(t *testing.T) {
	useSQLite(t)

	_, err := execute(t, "migrate", "up")
	require.NoError(t, err)

	out, err := execute(t, "tenant", "add", "--email", "Ops@Example.com", "--api-key", testAPIKey)
	require.NoError(t, err)
	assert.Contains(t, out, "email:   "+testEmail)
	assert.Contains(t, out, "api key: "+testAPIKey)

	_, err = execute(t, "tenant", "add", "--email", testEmail)
	require.Error(t, err, "duplicate email")

	out, err = execute(t, "token", "--email", testEmail, "--api-key", testAPIKey)
	require.NoError(t, err)
	var resp auth.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	_, err = execute(t, "token", "--email", testEmail, "--api-key", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestTenantAddGeneratesKey(t *testing.T) {
	useSQLite(t)
	_, err := execute(t, "migrate", "up")
	require.NoError(t, err)

	out, err := execute(t, "tenant", "add", "--email", "gen@example.com")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`api key: [A-Za-z0-9_-]{43}\n`), out)
}

func TestCommandsRequireSQLDatabase(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")

	for _, args := range [][]string{
		{"migrate", "up"},
		{"tenant", "add", "--email", testEmail},
		{"token", "--email", testEmail, "--api-key", testAPIKey},
	} {
		_, err := execute(t, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "needs a SQL database")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = newLogger(&buf, "debug", "text")
	require.NoError(t, err)
	logger.Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestApplyServeFlags(t *testing.T) {
	cfg := platform.DefaultConfig()
	applyServeFlags(cfg, serveOptions{})
	assert.Equal(t, platform.DefaultConfig().Server.Address, cfg.Server.Address)

	applyServeFlags(cfg, serveOptions{
		transport: platform.TransportStdio,
		address:   ":9000",
		logLevel:  "debug",
		logFormat: "text",
	})
	assert.Equal(t, platform.TransportStdio, cfg.Server.Transport)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}
