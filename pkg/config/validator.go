package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "LLM base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid LLM base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if t := c.LLM.RefineTemperature; t != nil && (*t < 0 || *t > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.refine_temperature",
			Message: "refine_temperature must be between 0 and 2",
		})
	}

	// Validate budget config
	if c.Budget.StreamLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "budget.stream_limit",
			Message: "stream_limit must be positive",
		})
	}

	if c.Budget.RefineLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "budget.refine_limit",
			Message: "refine_limit must be positive",
		})
	}

	if c.Retry.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_retries",
			Message: "max_retries must be positive",
		})
	}

	if d := c.Retry.DelaySeconds; d != nil && *d < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.delay_seconds",
			Message: "delay_seconds cannot be negative",
		})
	}

	// Validate Processor config
	if c.Processor.RowsPerChunk < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.rows_per_chunk",
			Message: "rows_per_chunk must be positive",
		})
	}

	if c.Source.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "source.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate spreadsheet catalog
	seen := make(map[string]bool)
	for _, s := range c.Spreadsheets {
		if s.Key == "" || s.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "spreadsheets",
				Message: "every spreadsheet needs a key and a path",
			})
			continue
		}
		if s.Key == c.Source.UploadKey {
			errors = append(errors, ValidationError{
				Field:   "spreadsheets",
				Message: fmt.Sprintf("key %q is reserved for uploads", s.Key),
			})
		}
		if seen[s.Key] {
			errors = append(errors, ValidationError{
				Field:   "spreadsheets",
				Message: fmt.Sprintf("duplicate key: %s", s.Key),
			})
		}
		seen[s.Key] = true
	}

	if c.Server.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "server.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.UI.Mode != ModeStream && c.UI.Mode != ModeRefine {
		errors = append(errors, ValidationError{
			Field:   "ui.mode",
			Message: fmt.Sprintf("mode must be %q or %q", ModeStream, ModeRefine),
		})
	}

	return errors
}
