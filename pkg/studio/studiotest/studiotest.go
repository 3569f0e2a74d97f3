// Package studiotest builds artifact agent dependencies for tests: a SQLite
// job store in a temp dir, in-memory project storage, embedded prompts and a
// scripted model.
package studiotest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/agent/agenttest"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/studio"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// ProjectsRoot is where Env stores project files.
const ProjectsRoot = "/projects"

// Env is a test environment for one artifact agent.
type Env struct {
	Deps       studio.Deps
	Provider   *agenttest.Provider
	Jobs       *jobs.SQLiteStore
	Storage    *storage.Store
	Executions *agenttest.Executions
	Runner     *agent.Runner
}

// New creates an Env whose model replays steps.
func New(t *testing.T, steps ...agenttest.Step) *Env {
	t.Helper()

	jobStore, err := jobs.Open(filepath.Join(t.TempDir(), "studio.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })

	store, err := storage.New(afero.NewMemMapFs(), ProjectsRoot, zerolog.Nop())
	require.NoError(t, err)

	env := &Env{
		Provider:   agenttest.NewProvider(steps...),
		Jobs:       jobStore,
		Storage:    store,
		Executions: &agenttest.Executions{},
	}
	factory, profiles := agenttest.SingleProfile(env.Provider)
	env.Runner, err = agent.NewRunner(agent.Config{
		Jobs:            jobStore,
		Executions:      env.Executions,
		Logger:          zerolog.Nop(),
		AuthProfiles:    profiles,
		ProviderFactory: factory,
	})
	require.NoError(t, err)

	env.Deps = studio.Deps{
		Runner:  env.Runner,
		Jobs:    jobStore,
		Storage: store,
		Prompts: prompts.NewLoader("", zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}
	return env
}

// Job returns a stored job record.
func (e *Env) Job(t *testing.T, kind, projectID, jobID string) *jobs.Record {
	t.Helper()
	rec, err := e.Jobs.Get(context.Background(), kind, projectID, jobID)
	require.NoError(t, err)
	return rec
}

// AddSource stores a source with the given text as both raw and processed content.
func (e *Env) AddSource(t *testing.T, projectID, id, name, ext, text string) {
	t.Helper()
	err := e.Storage.AddSource(context.Background(), projectID,
		storage.Source{ID: id, Name: name, FileExtension: ext}, []byte(text), text)
	require.NoError(t, err)
}

// UserMessage returns the first user message sent to the model.
func (e *Env) UserMessage(t *testing.T) string {
	t.Helper()
	requests := e.Provider.Requests()
	require.NotEmpty(t, requests)
	return requests[0].Messages[0].Content
}

// ToolResult returns the content of the idx-th tool result in the user
// turn that answered the assistant's turn-th reply (both 0-based).
func (e *Env) ToolResult(t *testing.T, turn, idx int) agent.ToolResult {
	t.Helper()
	requests := e.Provider.Requests()
	require.Greater(t, len(requests), turn+1, "no request after turn %d", turn)
	msg := requests[turn+1].Messages[2*turn+2]
	require.Greater(t, len(msg.ToolResults), idx)
	return msg.ToolResults[idx]
}
