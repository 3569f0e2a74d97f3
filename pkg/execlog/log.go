package execlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxLineSize bounds a single execution record when reading.
const maxLineSize = 16 * 1024 * 1024

// Execution is one agent run.
type Execution struct {
	ExecutionID string                 `json:"execution_id"`
	AgentName   string                 `json:"agent_name"`
	ProjectID   string                 `json:"project_id"`
	Task        interface{}            `json:"task"`
	Messages    interface{}            `json:"messages"`
	Result      interface{}            `json:"result"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Recorder persists executions.
type Recorder interface {
	Save(ctx context.Context, exec Execution) error
}

// Log is a file-backed Recorder.
type Log struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger

	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Log rooted at root on fs.
func New(fs afero.Fs, root string, logger zerolog.Logger) (*Log, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := fs.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create executions root: %w", err)
	}

	return &Log{
		fs:         fs,
		root:       root,
		logger:     logger.With().Str("component", "execlog").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateName(kind, name string) error {
	if err := storage.ValidateComponent(name); err != nil {
		return fmt.Errorf("invalid %s: %w", kind, err)
	}
	return nil
}

func (l *Log) path(projectID, agentName string) string {
	return filepath.Join(l.root, projectID, "executions", agentName+".jsonl")
}

func (l *Log) getWriteLock(path string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	if lock, ok := l.writeLocks[path]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.writeLocks[path] = lock
	return lock
}

// Save appends exec to its project/agent log.
func (l *Log) Save(ctx context.Context, exec Execution) error {
	ctx, span := tracing.StartSpan(ctx, "studio.execlog", "execlog.save",
		attribute.String("agent", exec.AgentName),
		attribute.String("execution_id", exec.ExecutionID),
	)
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := validateName("project id", exec.ProjectID); err != nil {
		return fail(err)
	}
	if err := validateName("agent name", exec.AgentName); err != nil {
		return fail(err)
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal execution: %w", err))
	}

	path := l.path(exec.ProjectID, exec.AgentName)
	lock := l.getWriteLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := l.fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fail(fmt.Errorf("failed to create executions directory: %w", err))
	}

	file, err := l.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fail(fmt.Errorf("failed to open execution log: %w", err))
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fail(fmt.Errorf("failed to write execution: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, l.logger)
	logger.Debug().
		Str("agent", exec.AgentName).
		Str("execution_id", exec.ExecutionID).
		Msg("Execution saved")

	return nil
}

// List returns the project's executions for agentName in append order.
// Corrupted lines are skipped.
func (l *Log) List(ctx context.Context, projectID, agentName string) ([]Execution, error) {
	if err := validateName("project id", projectID); err != nil {
		return nil, err
	}
	if err := validateName("agent name", agentName); err != nil {
		return nil, err
	}

	file, err := l.fs.Open(l.path(projectID, agentName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open execution log: %w", err)
	}
	defer file.Close()

	var out []Execution
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var exec Execution
		if err := json.Unmarshal(line, &exec); err != nil {
			l.logger.Warn().
				Err(err).
				Int("line", lineNum).
				Str("agent", agentName).
				Msg("Skipping corrupted execution record")
			continue
		}
		out = append(out, exec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read execution log: %w", err)
	}
	return out, nil
}
