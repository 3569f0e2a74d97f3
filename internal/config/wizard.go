package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard builds a config by prompting on a terminal.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for provider keys, the data directory and the log level.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Studio Configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "API Keys (at least one is required):")
	priority := 1
	for _, provider := range []string{"anthropic", "openai", "gemini"} {
		for {
			fmt.Fprintf(w.out, "%s API Key (press Enter to skip): ", provider)
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			if err := validator.ValidateAPIKey(key, provider); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       provider,
				Provider: provider,
				APIKey:   key,
				Priority: priority,
				Model:    DefaultProfileModel(provider),
			})
			priority++
			break
		}
	}

	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	fmt.Fprintln(w.out)
	fmt.Fprint(w.out, "Data directory [~/.studio]: ")
	dir, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir

	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// readLine treats EOF after a partial line as the final answer.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
