// Package hooks runs user shell commands when jobs finish.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/harun/studio/pkg/jobs"
	"github.com/rs/zerolog"
)

// Job events.
const (
	EventJobReady = "job:ready"
	EventJobError = "job:error"
)

const envPrefix = "STUDIO_JOB_"

// Hook is a shell command bound to an event.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
}

// Manager runs the hooks registered for each event.
type Manager struct {
	logger       zerolog.Logger
	hooksByEvent map[string][]Hook
}

// NewManager validates hooks and groups them by event.
func NewManager(hooks []Hook, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		logger:       logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}

	for _, hook := range hooks {
		event := strings.TrimSpace(hook.Event)
		switch event {
		case EventJobReady, EventJobError:
		case "":
			return nil, fmt.Errorf("hook event is required")
		default:
			return nil, fmt.Errorf("unknown hook event %q", event)
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		m.hooksByEvent[event] = append(m.hooksByEvent[event], hook)
	}

	return m, nil
}

// JobFinished runs the hooks for the record's final status. Records that
// are still pending or processing trigger nothing.
func (m *Manager) JobFinished(ctx context.Context, rec *jobs.Record) error {
	if m == nil || rec == nil {
		return nil
	}

	var event string
	switch rec.Status {
	case jobs.StatusReady:
		event = EventJobReady
	case jobs.StatusError:
		event = EventJobError
	default:
		return nil
	}

	hooks := m.hooksByEvent[event]
	if len(hooks) == 0 {
		return nil
	}

	env := jobEnvironment(event, rec)
	var errs []error
	for _, hook := range hooks {
		if err := m.run(ctx, event, hook, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, event string, hook Hook, env []string) error {
	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", hook.Script)
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hookID).
		Str("output", outputText).
		Msg("Hook executed")
	return nil
}

// jobEnvironment exposes the record's identity and its scalar fields.
// Nested values such as slide lists are left out.
func jobEnvironment(event string, rec *jobs.Record) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		envPrefix+"EVENT="+event,
		envPrefix+"KIND="+rec.Kind,
		envPrefix+"PROJECT_ID="+rec.ProjectID,
		envPrefix+"ID="+rec.JobID,
		envPrefix+"STATUS="+rec.Status,
	)

	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := rec.Data[key].(type) {
		case string, float64, int, bool:
			env = append(env, envPrefix+"DATA_"+normalizeEnvKey(key)+"="+fmt.Sprint(v))
		}
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
