// Package llmtest provides scripted stand-ins for the model and tokenizer
// collaborators.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var ErrGeneration = errors.New("generation failed")

// Call records one request made to a FakeModel.
type Call struct {
	Messages []llms.MessageContent
	Options  llms.CallOptions
}

// Prompt returns the text of the last human message of the call.
func (c Call) Prompt() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		var sb strings.Builder
		for _, part := range c.Messages[i].Parts {
			if text, ok := part.(llms.TextContent); ok {
				sb.WriteString(text.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// FakeModel implements llms.Model. Each call consumes the next entry of
// Responses (the last entry repeats). A call whose index is listed in
// FailOn fails; when streaming, PartialOnFailure chunks are delivered before
// the failure.
type FakeModel struct {
	Responses        []string
	StreamChunks     [][]string
	FailOn           map[int]bool
	FailAlways       bool
	PartialOnFailure []string
	Err              error

	mu    sync.Mutex
	calls []Call
}

var _ llms.Model = (*FakeModel)(nil)

func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	index := len(m.calls)
	m.calls = append(m.calls, Call{Messages: messages, Options: opts})
	m.mu.Unlock()

	if m.FailAlways || m.FailOn[index] {
		if opts.StreamingFunc != nil {
			for _, chunk := range m.PartialOnFailure {
				if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
					return nil, err
				}
			}
		}
		if m.Err != nil {
			return nil, m.Err
		}
		return nil, ErrGeneration
	}

	chunks := m.chunksFor(index)
	if opts.StreamingFunc != nil {
		for _, chunk := range chunks {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: strings.Join(chunks, "")}},
	}, nil
}

func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *FakeModel) chunksFor(index int) []string {
	if len(m.StreamChunks) > 0 {
		if index >= len(m.StreamChunks) {
			index = len(m.StreamChunks) - 1
		}
		return m.StreamChunks[index]
	}
	if len(m.Responses) == 0 {
		return []string{""}
	}
	if index >= len(m.Responses) {
		index = len(m.Responses) - 1
	}
	return []string{m.Responses[index]}
}

func (m *FakeModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// WordCounter counts whitespace separated words; it stands in for a real
// tokenizer.
type WordCounter struct{}

func (WordCounter) CountTokens(prompt string) (int, error) {
	return len(strings.Fields(prompt)), nil
}
