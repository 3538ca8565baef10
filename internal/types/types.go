package types

import (
	"context"

	"github.com/xhad/sheetqa/internal/models"
)

// Core interfaces
type TokenCounter interface {
	CountTokens(prompt string) (int, error)
}

type SpreadsheetLoader interface {
	Load(ctx context.Context, key, upload string) (*models.Spreadsheet, error)
	LoadHTML(ctx context.Context, key, content string) (*models.Spreadsheet, error)
	Keys() []string
}

type Splitter interface {
	Process(html string) ([]string, error)
}

type HeaderExtractor func(html string) (models.HeaderSet, error)

// Answerer is implemented by the chat engine; the server and the CLI
// depend on it so tests can swap the model underneath.
type Answerer interface {
	ChatStream(ctx context.Context, tableHTML, question string) (<-chan models.StreamUpdate, error)
	Refine(ctx context.Context, chunks []string, headers models.HeaderSet, question string, onStep models.StepFunc) (*models.RefineResult, error)
}
