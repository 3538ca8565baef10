package llm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/xhad/sheetqa/internal/types"
)

const (
	// StreamTokenLimit is the context ceiling for single-call answers over the
	// whole table.
	StreamTokenLimit = 199000
	// RefineTokenLimit is the context ceiling for each refine chain call.
	RefineTokenLimit = 128000

	DefaultEncoding = "cl100k_base"

	// chatTemplateTokens accounts for the BOS, [INST] and [/INST] tokens that
	// wrap a single user message.
	chatTemplateTokens = 3
)

var ErrBudgetExceeded = errors.New("spreadsheet is too big to be processed")

// BudgetError is returned when an assembled prompt does not fit the model's
// context window. No model call is made in that case.
type BudgetError struct {
	Tokens    int
	MaxTokens int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: prompt uses %d tokens, limit is %d", ErrBudgetExceeded, e.Tokens, e.MaxTokens)
}

func (e *BudgetError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

var offlineBpe sync.Once

// TiktokenCounter counts tokens of a prompt sent as one user chat message.
// Encodings come from the ranks embedded in tiktoken-go-loader, so counting
// works without network access.
type TiktokenCounter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) CountTokens(prompt string) (int, error) {
	c.once.Do(func() {
		offlineBpe.Do(func() {
			tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		})
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})
	if c.err != nil {
		return 0, fmt.Errorf("failed to load encoding %s: %w", c.encoding, c.err)
	}
	return len(c.enc.Encode(prompt, nil, nil)) + chatTemplateTokens, nil
}

// Budgeter decides whether a prompt fits under a fixed token ceiling.
type Budgeter struct {
	Counter   types.TokenCounter
	MaxTokens int
}

func NewBudgeter(counter types.TokenCounter, maxTokens int) Budgeter {
	return Budgeter{Counter: counter, MaxTokens: maxTokens}
}

func (b Budgeter) Fits(prompt string) (bool, error) {
	n, err := b.Counter.CountTokens(prompt)
	if err != nil {
		return false, fmt.Errorf("token count failed: %w", err)
	}
	return n <= b.MaxTokens, nil
}

// Check is Fits with the refusal expressed as a *BudgetError.
func (b Budgeter) Check(prompt string) error {
	n, err := b.Counter.CountTokens(prompt)
	if err != nil {
		return fmt.Errorf("token count failed: %w", err)
	}
	if n > b.MaxTokens {
		return &BudgetError{Tokens: n, MaxTokens: b.MaxTokens}
	}
	return nil
}
