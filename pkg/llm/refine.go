package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/sheetqa/internal/models"
)

var ErrNoChunks = errors.New("no spreadsheet chunks to answer from")

// Refine seeds an answer from the first chunk and refines it with every
// following chunk, one blocking model call per chunk. Step i only starts
// once step i-1 has produced its answer. The first failing call aborts the
// whole chain; there is no retry on this path.
func (ce *ChatEngine) Refine(ctx context.Context, chunks []string, headers models.HeaderSet, question string, onStep models.StepFunc) (*models.RefineResult, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	chain := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		var (
			prompt string
			err    error
		)
		if i == 0 {
			prompt, err = InitialPrompt(chunk, headers, question)
		} else {
			prompt, err = RefinePrompt(chunk, chain[i-1], question)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build prompt for chunk %d: %w", i, err)
		}

		if err := ce.refineBudget.Check(prompt); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		answer, err := ce.complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("refine step %d/%d: %w", i+1, len(chunks), err)
		}
		chain = append(chain, answer)

		if onStep != nil {
			onStep(i, len(chunks), answer)
		}
	}

	return &models.RefineResult{
		Chain:  chain,
		Answer: chain[len(chain)-1],
	}, nil
}

func (ce *ChatEngine) complete(ctx context.Context, prompt string) (string, error) {
	content := make([]llms.MessageContent, 0, 2)
	if ce.config.SystemTemplate != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.refineTemp),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", errors.New("chat error: no response from LLM")
	}
	return response.Choices[0].Content, nil
}
