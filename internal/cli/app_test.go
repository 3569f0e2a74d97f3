package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/pkg/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv writes a config whose data directory is a temp dir.
type testEnv struct {
	dir        string
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, env := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(env, "")
	}

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logging.Pretty = false
	cfg.Logging.File = filepath.Join(dir, "studio.log")

	path := filepath.Join(dir, "studio.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))

	t.Cleanup(resetFlags)
	return &testEnv{dir: dir, configPath: path}
}

func resetFlags() {
	cfgFile, logLevel, metricsAddr = "", "info", ""
	jobProject, jobKind = "", ""
	sourceProject, sourceID, sourceName, sourceText = "", "", "", ""
	analyzeProject, analyzeSource = "", ""
	reportOpts, emailOpts, presentationOpts, wireframeOpts = jobOptions{}, jobOptions{}, jobOptions{}, jobOptions{}
	reportType, reportCSV, reportContext, reportFocusAreas = "", nil, nil, nil
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(append(args, "--config", e.configPath))
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestSourceCommands(t *testing.T) {
	env := newTestEnv(t)

	file := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(file, []byte("region,revenue\nnorth,10\n"), 0644))

	out, err := env.run(t, "source", "add", "--project", "acme", "--id", "sales", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Added source sales (sales.csv)")

	raw, err := os.ReadFile(filepath.Join(env.dir, "projects", "acme", "sources", "raw", "sales.csv"))
	require.NoError(t, err)
	assert.Equal(t, "region,revenue\nnorth,10\n", string(raw))

	out, err = env.run(t, "source", "list", "--project", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "sales\tsales.csv\t24 bytes")

	_, err = env.run(t, "source", "add", "--project", "acme", "--id", "../escape", file)
	assert.Error(t, err)
}

func TestJobCommands(t *testing.T) {
	env := newTestEnv(t)

	store, err := jobs.Open(filepath.Join(env.dir, "studio.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), jobs.KindBusinessReport, "acme", "job1", jobs.Fields{
		"status":         jobs.StatusReady,
		"status_message": "Report generated",
		"title":          "Q3 Review",
	}))
	require.NoError(t, store.Close())

	t.Run("show accepts the short kind", func(t *testing.T) {
		out, err := env.run(t, "job", "show", "report", "job1", "--project", "acme")
		require.NoError(t, err)

		var rec jobs.Record
		require.NoError(t, json.Unmarshal([]byte(out), &rec))
		assert.Equal(t, jobs.StatusReady, rec.Status)
		assert.Equal(t, "Q3 Review", rec.String("title"))
	})

	t.Run("show missing job", func(t *testing.T) {
		_, err := env.run(t, "job", "show", "email", "job1", "--project", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no email job job1 in project acme")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := env.run(t, "job", "show", "poster", "job1", "--project", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown job kind "poster"`)
	})

	t.Run("list", func(t *testing.T) {
		out, err := env.run(t, "job", "list", "--project", "acme")
		require.NoError(t, err)
		assert.Contains(t, out, "business_report")
		assert.Contains(t, out, "Report generated")
	})
}

func TestArtifactCommandsRequireCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "wireframe", "--project", "acme", "--job", "w1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI credentials configured")
}

func TestArtifactCommandsRejectUnsafeIDs(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "presentation", "--project", "../acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid project id")

	_, err = env.run(t, "email", "--project", "acme", "--job", "a/b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")
}

func TestLoadConfigOverrides(t *testing.T) {
	env := newTestEnv(t)
	cfgFile = env.configPath
	metricsAddr = "127.0.0.1:0"

	cfg, err := loadConfig(GetRootCmd())
	require.NoError(t, err)
	assert.Equal(t, env.dir, cfg.DataDir)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Addr)
	assert.Equal(t, filepath.Join(env.dir, "studio.db"), cfg.DatabasePath())
}

func TestNewID(t *testing.T) {
	id, err := newID()
	require.NoError(t, err)
	assert.Len(t, id, 16)
	assert.Regexp(t, "^[0-9a-z]+$", id)
}
