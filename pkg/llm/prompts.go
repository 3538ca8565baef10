package llm

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/sheetqa/internal/models"
)

// Questions and table content are passed as named values, never spliced into
// the template text, so braces or quotes in a question stay literal.
var (
	directPrompt = prompts.NewPromptTemplate(
		"Here is spreadsheet exported as html: <spreadsheet>{{.table}}</spreadsheet>\n"+
			"Answer the following question about this spreadsheet (it's given to you in <spreadsheet></spreadsheet> tags):\n"+
			"{{.question}}",
		[]string{"table", "question"},
	)

	initialPrompt = prompts.NewPromptTemplate(
		"You are given a spreadsheet with the following row headers: {{.row_headers}} and column headers: {{.col_headers}}.\n"+
			"Here is the spreadsheet exported as html: <spreadsheet>{{.text}}</spreadsheet>\n"+
			"Using the information in the spreadsheet, answer the following question: {{.question}}\n"+
			"ANSWER:",
		[]string{"row_headers", "col_headers", "text", "question"},
	)

	refinePrompt = prompts.NewPromptTemplate(
		"Your job is to answer the question: {{.question}}\n"+
			"Here's your first answer: {{.existing_answer}}\n"+
			"Now we have additional data from the spreadsheet:\n"+
			"------------\n"+
			"{{.text}}\n"+
			"------------\n"+
			"Based on this new context, refine your answer. If the new data does not affect your answer, return the original answer.",
		[]string{"question", "existing_answer", "text"},
	)
)

// DirectPrompt builds the single-call prompt over a whole table.
func DirectPrompt(tableHTML, question string) (string, error) {
	return directPrompt.Format(map[string]any{
		"table":    tableHTML,
		"question": question,
	})
}

func InitialPrompt(chunk string, headers models.HeaderSet, question string) (string, error) {
	return initialPrompt.Format(map[string]any{
		"row_headers": strings.Join(headers.RowHeaders, " "),
		"col_headers": strings.Join(headers.ColHeaders, " "),
		"text":        chunk,
		"question":    question,
	})
}

func RefinePrompt(chunk, existingAnswer, question string) (string, error) {
	return refinePrompt.Format(map[string]any{
		"question":        question,
		"existing_answer": existingAnswer,
		"text":            chunk,
	})
}
