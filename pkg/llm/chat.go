package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/sheetqa/internal/models"
	"github.com/xhad/sheetqa/internal/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	MaxRetries = 3
	RetryDelay = 20 * time.Second

	DefaultTemperature       = 0.9
	DefaultRefineTemperature = 0.7
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string

	// Temperature applies to streaming answers, RefineTemperature to the
	// refine chain calls. Both are pointers so an explicit 0 is kept; nil
	// selects the default.
	Temperature       *float64
	RefineTemperature *float64
	MaxTokens         int
	SystemTemplate    string

	StreamTokenLimit int
	RefineTokenLimit int
	Counter          types.TokenCounter

	MaxRetries int
	// RetryDelay is nil for the default delay; a zero delay retries at once.
	RetryDelay *time.Duration
}

// ChatEngine answers questions about spreadsheets with an LLM.
type ChatEngine struct {
	config       ChatConfig
	llm          llms.Model
	temperature  float64
	refineTemp   float64
	retryDelay   time.Duration
	streamBudget Budgeter
	refineBudget Budgeter
}

// NewWithConfig creates a ChatEngine talking to the backend named by
// config.Provider.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistralai/Mistral-Nemo-Instruct-2407"
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case "", ProviderOpenAI:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:8000/v1"
		}
		if config.APIKey == "" {
			// local OpenAI-compatible servers ignore the key but the client requires one
			config.APIKey = "NOT REQUIRED"
		}
		model, err = openai.New(
			openai.WithModel(config.Model),
			openai.WithBaseURL(config.BaseURL),
			openai.WithToken(config.APIKey),
		)
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return New(model, config)
}

// New creates a ChatEngine on top of an already constructed model.
func New(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	temperature, err := temperatureOrDefault("temperature", config.Temperature, DefaultTemperature)
	if err != nil {
		return nil, err
	}
	refineTemp, err := temperatureOrDefault("refine temperature", config.RefineTemperature, DefaultRefineTemperature)
	if err != nil {
		return nil, err
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 512
	}
	if config.StreamTokenLimit == 0 {
		config.StreamTokenLimit = StreamTokenLimit
	}
	if config.RefineTokenLimit == 0 {
		config.RefineTokenLimit = RefineTokenLimit
	}
	if config.Counter == nil {
		config.Counter = NewTiktokenCounter(DefaultEncoding)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = MaxRetries
	}
	retryDelay := RetryDelay
	if config.RetryDelay != nil {
		if *config.RetryDelay < 0 {
			return nil, fmt.Errorf("retry delay cannot be negative")
		}
		retryDelay = *config.RetryDelay
	}

	return &ChatEngine{
		config:       config,
		llm:          model,
		temperature:  temperature,
		refineTemp:   refineTemp,
		retryDelay:   retryDelay,
		streamBudget: NewBudgeter(config.Counter, config.StreamTokenLimit),
		refineBudget: NewBudgeter(config.Counter, config.RefineTokenLimit),
	}, nil
}

// ChatStream answers question over the whole table in one streaming call.
//
// The prompt is checked against the stream budget first; a *BudgetError is
// returned without calling the model. A failed generation is retried from
// scratch after RetryDelay. Once the retries are used up the stream just
// ends: the last update carries StreamRetriesExhausted and no error is
// reported.
func (ce *ChatEngine) ChatStream(ctx context.Context, tableHTML, question string) (<-chan models.StreamUpdate, error) {
	prompt, err := DirectPrompt(tableHTML, question)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	if err := ce.streamBudget.Check(prompt); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	resultChan := make(chan models.StreamUpdate)

	go func() {
		defer close(resultChan)

		status := ce.streamWithRetry(ctx, requestID, prompt, resultChan)

		// Best effort: a caller that stopped reading must not block us.
		select {
		case resultChan <- models.StreamUpdate{RequestID: requestID, Done: true, Status: status}:
		case <-ctx.Done():
		}
	}()

	return resultChan, nil
}

func (ce *ChatEngine) streamWithRetry(ctx context.Context, requestID, prompt string, out chan<- models.StreamUpdate) models.StreamStatus {
	for attempt := 1; attempt <= ce.config.MaxRetries; attempt++ {
		accumulated := ""
		_, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt,
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTemperature(ce.temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				accumulated += string(chunk)
				update := models.StreamUpdate{
					RequestID: requestID,
					Attempt:   attempt,
					Delta:     string(chunk),
					Text:      accumulated,
					Status:    models.StreamRunning,
				}
				select {
				case out <- update:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err == nil {
			return models.StreamCompleted
		}
		if ctx.Err() != nil {
			return models.StreamCanceled
		}

		log.Printf("request %s: generation failed (attempt %d/%d): %v", requestID, attempt, ce.config.MaxRetries, err)
		if attempt == ce.config.MaxRetries {
			log.Printf("request %s: max retries reached, skipping this request", requestID)
			break
		}

		log.Printf("request %s: retrying in %s", requestID, ce.retryDelay)
		select {
		case <-time.After(ce.retryDelay):
		case <-ctx.Done():
			return models.StreamCanceled
		}
	}
	return models.StreamRetriesExhausted
}

func temperatureOrDefault(name string, t *float64, def float64) (float64, error) {
	if t == nil {
		return def, nil
	}
	if *t < 0 || *t > 2 {
		return 0, fmt.Errorf("%s must be between 0 and 2", name)
	}
	return *t, nil
}
