package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// writeConfig writes a YAML config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs a fresh command tree and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const quietConfig = `
logger:
  level: error
`

func TestRootCmd_Version(t *testing.T) {
	t.Run("Flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Equal(t, "webpilot version "+Version+"\n", out)
	})

	t.Run("Subcommand", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Equal(t, "webpilot version "+Version+"\n", out)
	})
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, quietConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "webpilot drives an automated browser surface")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "presets")
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	path := writeConfig(t, `
automation:
  command_timeout: 10s
  wait_max: 30s
`)
	_, err := execute(t, "--config", path, "presets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "automation.wait_max")
}

func TestRootCmd_MissingExplicitConfigFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "presets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestInitializeConfig(t *testing.T) {
	load := func(t *testing.T, path string, args ...string) *config.Config {
		t.Helper()
		root := NewRootCommand()
		require.NoError(t, root.ParseFlags(args))
		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(root, v, path))
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		return cfg
	}

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		cfg := load(t, writeConfig(t, `
surface:
  default_url: https://start.test
  console_capacity: 20
browser:
  headless: false
`))
		assert.Equal(t, "https://start.test", cfg.Surface().DefaultURL)
		assert.Equal(t, 20, cfg.Surface().ConsoleCapacity)
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, 90*time.Second, cfg.Automation().CommandTimeout)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Setenv("WEBPILOT_SURFACE_DEFAULT_URL", "https://env.test")
		t.Setenv("WEBPILOT_CAPTURE_BODY_CAP", "2048")

		cfg := load(t, writeConfig(t, "surface:\n  default_url: https://file.test\n"))
		assert.Equal(t, "https://env.test", cfg.Surface().DefaultURL)
		assert.Equal(t, 2048, cfg.Capture().BodyCap)
	})

	t.Run("LogLevelFlag", func(t *testing.T) {
		cfg := load(t, writeConfig(t, quietConfig), "--log-level", "debug")
		assert.Equal(t, "debug", cfg.Logger().Level)
	})
}

func TestConfigFromContext(t *testing.T) {
	_, err := configFromContext(context.Background())
	assert.EqualError(t, err, "configuration not loaded")

	cfg := config.NewDefaultConfig()
	got, err := configFromContext(context.WithValue(context.Background(), configKey, config.Interface(cfg)))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
