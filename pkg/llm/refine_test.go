package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/sheetqa/internal/llmtest"
	"github.com/xhad/sheetqa/internal/models"
	"github.com/xhad/sheetqa/pkg/llm"
	"github.com/xhad/sheetqa/pkg/processor"
	"github.com/xhad/sheetqa/pkg/table"
)

func TestRefineBuildsChain(t *testing.T) {
	model := &llmtest.FakeModel{Responses: []string{"first", "second", "third"}}
	engine := newEngine(t, model)

	chunks := []string{"<tr>chunk zero</tr>", "<tr>chunk one</tr>", "<tr>chunk two</tr>"}
	headers := models.HeaderSet{RowHeaders: []string{"A", "B"}, ColHeaders: []string{"X", "Y"}}

	var steps []int
	result, err := engine.Refine(context.Background(), chunks, headers, "Which?", func(step, total int, answer string) {
		assert.Equal(t, 3, total)
		steps = append(steps, step)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, result.Chain)
	assert.Equal(t, "third", result.Answer)
	assert.Equal(t, []int{0, 1, 2}, steps)

	calls := model.Calls()
	require.Len(t, calls, len(chunks))

	seed := calls[0].Prompt()
	assert.Contains(t, seed, "row headers: A B and column headers: X Y.")
	assert.Contains(t, seed, "<spreadsheet><tr>chunk zero</tr></spreadsheet>")
	assert.Contains(t, seed, "answer the following question: Which?")
	assert.NotContains(t, seed, "chunk one")

	for i := 1; i < len(chunks); i++ {
		prompt := calls[i].Prompt()
		assert.Contains(t, prompt, "Here's your first answer: "+result.Chain[i-1])
		assert.Contains(t, prompt, chunks[i])
		assert.Contains(t, prompt, "return the original answer")
	}
}

func TestRefineAbortsOnFailure(t *testing.T) {
	model := &llmtest.FakeModel{
		Responses: []string{"first", "second", "third"},
		FailOn:    map[int]bool{1: true},
	}
	engine := newEngine(t, model)

	result, err := engine.Refine(context.Background(), []string{"a", "b", "c"}, models.HeaderSet{}, "q", nil)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, llmtest.ErrGeneration))

	// no retry, no further steps
	assert.Len(t, model.Calls(), 2)
}

func TestRefineNoChunks(t *testing.T) {
	model := &llmtest.FakeModel{}
	engine := newEngine(t, model)

	_, err := engine.Refine(context.Background(), nil, models.HeaderSet{}, "q", nil)
	assert.ErrorIs(t, err, llm.ErrNoChunks)
	assert.Empty(t, model.Calls())
}

func TestRefineBudget(t *testing.T) {
	model := &llmtest.FakeModel{Responses: []string{"answer"}}
	engine := newEngine(t, model, func(c *llm.ChatConfig) {
		c.RefineTokenLimit = 5
	})

	_, err := engine.Refine(context.Background(), []string{"chunk"}, models.HeaderSet{}, "q", nil)
	assert.ErrorIs(t, err, llm.ErrBudgetExceeded)
	assert.Empty(t, model.Calls())
}

func TestRefineSystemTemplate(t *testing.T) {
	model := &llmtest.FakeModel{Responses: []string{"answer"}}
	engine := newEngine(t, model, func(c *llm.ChatConfig) {
		c.SystemTemplate = "You always answer in 2-3 sentences."
	})

	_, err := engine.Refine(context.Background(), []string{"chunk"}, models.HeaderSet{}, "q", nil)
	require.NoError(t, err)

	calls := model.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, calls[0].Messages[0].Role)
	assert.Equal(t, 512, calls[0].Options.MaxTokens)
}

func TestRefineEndToEnd(t *testing.T) {
	html := `<html><body><table class="waffle">
<tr><td>notes</td><td>X</td><td>Y</td></tr>
<tr><td>B</td><td>7</td><td>9</td></tr>
</table></body></html>`

	normalized, err := table.Normalize(html)
	require.NoError(t, err)

	headers, err := table.ExtractHeaders(normalized)
	require.NoError(t, err)

	p := processor.NewWithConfig(processor.ProcessorConfig{RowsPerChunk: 1})
	chunks, err := p.Process(normalized)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	model := &llmtest.FakeModel{Responses: []string{"The value is 9.", "Still 9."}}
	engine := newEngine(t, model)

	result, err := engine.Refine(context.Background(), chunks, headers, "What is the value in row B, column Y?", nil)
	require.NoError(t, err)

	assert.Len(t, result.Chain, 2)
	assert.Equal(t, "Still 9.", result.Answer)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt(), "The value is 9.")
	assert.Contains(t, calls[1].Prompt(), "Value: 9")
}
