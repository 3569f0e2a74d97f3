package execlog

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	l, err := New(fs, "/data/projects", zerolog.Nop())
	require.NoError(t, err)
	return l, fs
}

func TestNew(t *testing.T) {
	t.Run("should require a filesystem", func(t *testing.T) {
		_, err := New(nil, "/x", zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should require a root", func(t *testing.T) {
		_, err := New(afero.NewMemMapFs(), "", zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestLog_SaveAndList(t *testing.T) {
	l, fs := newTestLog(t)
	ctx := context.Background()
	started := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"e1", "e2"} {
		err := l.Save(ctx, Execution{
			ExecutionID: id,
			AgentName:   "email_agent",
			ProjectID:   "p1",
			Task:        map[string]interface{}{"job_id": "j1"},
			Result:      map[string]interface{}{"success": true},
			StartedAt:   started,
			CompletedAt: started.Add(time.Minute),
		})
		require.NoError(t, err)
	}

	exists, err := afero.Exists(fs, "/data/projects/p1/executions/email_agent.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)

	execs, err := l.List(ctx, "p1", "email_agent")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "e1", execs[0].ExecutionID)
	assert.Equal(t, "e2", execs[1].ExecutionID)
	assert.True(t, execs[0].StartedAt.Equal(started))
	assert.Equal(t, map[string]interface{}{"success": true}, execs[0].Result)
}

func TestLog_ListMissing(t *testing.T) {
	l, _ := newTestLog(t)

	execs, err := l.List(context.Background(), "p1", "nobody")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestLog_SkipsCorruptedLines(t *testing.T) {
	l, fs := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Save(ctx, Execution{ExecutionID: "ok", AgentName: "a", ProjectID: "p"}))
	f, err := fs.OpenFile("/data/projects/p/executions/a.jsonl", os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.Write([]byte("{not json\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	execs, err := l.List(ctx, "p", "a")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "ok", execs[0].ExecutionID)
}

func TestLog_ValidatesNames(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		project string
		agent   string
	}{
		{"empty project", "", "a"},
		{"traversal", "..", "a"},
		{"separator", "p", "a/b"},
		{"backslash", "p\\q", "a"},
		{"null byte", "p", "a\x00"},
		{"current directory", ".", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Save(ctx, Execution{ProjectID: tt.project, AgentName: tt.agent})
			assert.Error(t, err)

			_, err = l.List(ctx, tt.project, tt.agent)
			assert.ErrorContains(t, err, "invalid")
		})
	}
}

func TestLog_ConcurrentSaves(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Save(ctx, Execution{ExecutionID: "x", AgentName: "a", ProjectID: "p"}))
		}()
	}
	wg.Wait()

	execs, err := l.List(ctx, "p", "a")
	require.NoError(t, err)
	assert.Len(t, execs, 25)
}
