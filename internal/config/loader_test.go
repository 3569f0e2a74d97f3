package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Runner.MaxRetries)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"ai": {"profiles": [{"id": "a", "provider": "anthropic", "api_key": "sk-ant-x", "priority": 1, "model": "claude-sonnet-4-5"}]},
			"agents": {"email_agent": {"max_iterations": 6, "temperature": 0.3}},
			"logging": {"level": "debug"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "claude-sonnet-4-5", cfg.AI.Profiles[0].Model)
		assert.Equal(t, 6, cfg.Agents[AgentEmail].MaxIterations)
		require.NotNil(t, cfg.Agents[AgentEmail].Temperature)
		assert.Equal(t, 0.3, *cfg.Agents[AgentEmail].Temperature)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// defaults survive partial sections
		assert.True(t, cfg.Logging.Redaction)
		assert.Equal(t, filepath.Join(tmpDir, "studio.log"), cfg.Logging.File)
	})

	t.Run("environment overrides data dir", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("STUDIO_DATA_DIR", dir)

		cfg, err := NewLoader(filepath.Join(dir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, dir, cfg.DataDir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		cfg := validConfig()
		cfg.DataDir = tmpDir
		cfg.Metrics.Addr = ":9464"

		require.NoError(t, NewLoader(configPath).Save(cfg))

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		require.Len(t, loaded.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-test123", loaded.AI.Profiles[0].APIKey)
		assert.Equal(t, ":9464", loaded.Metrics.Addr)
		assert.Equal(t, tmpDir, loaded.DataDir)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		path := NewLoader("").GetConfigPath()
		assert.Contains(t, path, ".studio")
		assert.Equal(t, "studio.json", filepath.Base(path))
	})
}
