package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultFiles embed.FS

// ErrUnknownAgent is returned for agents with neither an override nor a default.
var ErrUnknownAgent = errors.New("no prompt config for agent")

// Loader resolves prompt configs, preferring the override directory.
type Loader struct {
	dir    string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Config

	watcher *Watcher
}

// NewLoader creates a Loader. An empty dir uses only the embedded defaults.
func NewLoader(dir string, logger zerolog.Logger) *Loader {
	return &Loader{
		dir:    dir,
		logger: logger.With().Str("component", "prompts").Logger(),
		cache:  make(map[string]*Config),
	}
}

// Get returns the config for an agent.
func (l *Loader) Get(name string) (*Config, error) {
	l.mu.RLock()
	cfg, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := l.load(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Names lists the agents with an embedded default.
func (l *Loader) Names() []string {
	entries, _ := fs.ReadDir(defaultFiles, "defaults")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Invalidate drops cached configs so the next Get rereads them.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*Config)
	l.mu.Unlock()
	l.logger.Debug().Msg("Prompt cache invalidated")
}

// Watch reloads configs when files in the override directory change.
func (l *Loader) Watch() error {
	if l.dir == "" {
		return fmt.Errorf("no prompt override directory configured")
	}
	if l.watcher != nil {
		return nil
	}
	w, err := NewWatcher(l.logger, l.Invalidate)
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := w.Watch(l.dir); err != nil {
		w.Stop()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}
	l.watcher = w
	l.logger.Info().Str("dir", l.dir).Msg("Watching prompt overrides")
	return nil
}

// Close stops watching.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Stop()
	l.watcher = nil
	return err
}

func (l *Loader) load(name string) (*Config, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid agent name %q", name)
	}

	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name+".yaml"))
		switch {
		case err == nil:
			cfg, err := parse(data)
			if err != nil {
				return nil, fmt.Errorf("override %s: %w", name, err)
			}
			l.logger.Debug().Str("agent", name).Msg("Loaded prompt override")
			return cfg, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read prompt override %s: %w", name, err)
		}
	}

	data, err := defaultFiles.ReadFile("defaults/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
