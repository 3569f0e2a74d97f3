package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/harun/studio/internal/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Config is one agent's prompt and model settings.
type Config struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Model         string            `yaml:"model"`
	MaxTokens     int               `yaml:"max_tokens"`
	Temperature   *float64          `yaml:"temperature"`
	MaxIterations int               `yaml:"max_iterations"`
	SystemPrompt  string            `yaml:"system_prompt"`
	UserMessage   string            `yaml:"user_message"`
	ReportTypes   map[string]string `yaml:"report_types"`

	tmpl *template.Template
}

func (c *Config) compile() error {
	if c.Name == "" {
		return fmt.Errorf("prompt config name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("prompt config %s: model is required", c.Name)
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("prompt config %s: system_prompt is required", c.Name)
	}
	tmpl, err := template.New(c.Name).Option("missingkey=error").Parse(c.UserMessage)
	if err != nil {
		return fmt.Errorf("prompt config %s: invalid user_message template: %w", c.Name, err)
	}
	c.tmpl = tmpl
	return nil
}

// Render executes the user message template with data.
func (c *Config) Render(data interface{}) (string, error) {
	if c.tmpl == nil {
		if err := c.compile(); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s user message: %w", c.Name, err)
	}
	return strings.TrimSpace(collapseBlankLines(buf.String())), nil
}

// ReportTypeDisplay returns the display name of a report type, deriving one
// from the key when the config does not list it.
func (c *Config) ReportTypeDisplay(key string) string {
	if name, ok := c.ReportTypes[key]; ok {
		return name
	}
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// WithOverride returns a copy with the non-zero override fields applied.
func (c *Config) WithOverride(o config.AgentOverride) *Config {
	out := *c
	if o.Model != "" {
		out.Model = o.Model
	}
	if o.MaxTokens > 0 {
		out.MaxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		t := *o.Temperature
		out.Temperature = &t
	}
	if o.MaxIterations > 0 {
		out.MaxIterations = o.MaxIterations
	}
	return &out
}

// collapseBlankLines squeezes runs of blank lines left by empty template sections.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
