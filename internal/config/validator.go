package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if strings.ContainsAny(key, " \t\n") {
			return fmt.Errorf("invalid Gemini API key format (contains whitespace)")
		}
	}

	return nil
}

// ValidateModel rejects empty names. Any non-empty model id is accepted.
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateMaxIterations bounds the agent loop budget.
func (v *Validator) ValidateMaxIterations(n int) error {
	if n < 1 || n > 50 {
		return fmt.Errorf("max iterations must be between 1 and 50, got %d", n)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSampleRatio validates the tracing sample ratio.
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and returns every problem found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	for _, name := range KnownAgents {
		o, ok := cfg.Agents[name]
		if !ok {
			continue
		}
		if o.Temperature != nil {
			if err := v.ValidateTemperature(*o.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("agent %s: %w", name, err))
			}
		}
		if o.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(o.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("agent %s: %w", name, err))
			}
		}
		if o.MaxIterations != 0 {
			if err := v.ValidateMaxIterations(o.MaxIterations); err != nil {
				errors = append(errors, fmt.Errorf("agent %s: %w", name, err))
			}
		}
	}

	if err := v.ValidateModel(cfg.Images.Model); err != nil {
		errors = append(errors, fmt.Errorf("images: %w", err))
	}
	if cfg.Runner.RetryBaseDelayMs < 0 {
		errors = append(errors, fmt.Errorf("runner.retry_base_delay_ms must be >= 0"))
	}
	if cfg.Runner.ToolTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("runner.tool_timeout_seconds must be >= 0"))
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tracing.Enabled {
		if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
