package processor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xhad/sheetqa/pkg/table"
)

const (
	rowHeaderLabel = "Header for this row: "
	columnLabel    = "Column: "
	valueLabel     = "Value: "
)

type ProcessorConfig struct {
	RowsPerChunk int
}

// Processor turns a normalized spreadsheet into chunks that an LLM can read
// one at a time. Every cell of a chunk is rewritten to carry its own column
// label so no other chunk is needed to interpret it.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.RowsPerChunk <= 0 {
		config.RowsPerChunk = 1
	}

	return Processor{
		config: config,
	}
}

// Process returns every chunk of every table in document order.
func (p *Processor) Process(doc string) ([]string, error) {
	var chunks []string
	err := p.Each(doc, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Each hands chunks to fn as they are produced and stops at the first error
// fn returns.
func (p *Processor) Each(doc string, fn func(chunk string) error) error {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return &table.ParseError{Step: "split spreadsheet", Err: err}
	}

	tables := parsed.Find("table")
	if tables.Length() == 0 {
		return &table.ParseError{Step: "split spreadsheet", Err: table.ErrTableNotFound}
	}

	for t := range tables.Nodes {
		rows := tables.Eq(t).Find("tr")
		if rows.Length() == 0 {
			return &table.ParseError{Step: "split spreadsheet", Err: table.ErrNoRows}
		}

		colHeaders := columnHeaders(rows.First())

		for start := 0; start < rows.Length(); start += p.config.RowsPerChunk {
			end := start + p.config.RowsPerChunk
			if end > rows.Length() {
				end = rows.Length()
			}
			group := rows.Slice(start, end)

			group.Each(func(j int, row *goquery.Selection) {
				annotateRow(row, j, colHeaders)
			})

			// Only the last row of the group is emitted; the earlier rows are
			// annotated in place but never serialized.
			chunk, err := goquery.OuterHtml(group.Last())
			if err != nil {
				return fmt.Errorf("render chunk: %w", err)
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}

	return nil
}

func columnHeaders(notesRow *goquery.Selection) []string {
	headers := []string{}
	notesRow.Find("td").Each(func(i int, cell *goquery.Selection) {
		if i > 0 {
			headers = append(headers, strings.TrimSpace(cell.Text()))
		}
	})
	return headers
}

func annotateRow(row *goquery.Selection, j int, colHeaders []string) {
	cells := row.Find("td, th")
	if cells.Length() < 2 {
		return
	}
	cells.Slice(1, cells.Length()).Each(func(k int, cell *goquery.Selection) {
		original := strings.TrimSpace(cell.Text())
		cell.Empty()

		if k == 0 && j == 0 {
			cell.AppendNodes(paragraph(rowHeaderLabel + original))
			return
		}

		if label, ok := columnLabelAt(colHeaders, k-1); ok {
			cell.AppendNodes(paragraph(columnLabel + label))
		}
		cell.AppendNodes(paragraph(valueLabel + original))
	})
}

// columnLabelAt resolves a label position the way the exported sheets were
// first annotated: -1 addresses the last label.
func columnLabelAt(colHeaders []string, i int) (string, bool) {
	if i < 0 {
		i += len(colHeaders)
	}
	if i < 0 || i >= len(colHeaders) {
		return "", false
	}
	return colHeaders[i], true
}

func paragraph(text string) *html.Node {
	p := &html.Node{
		Type:     html.ElementNode,
		Data:     "p",
		DataAtom: atom.P,
	}
	p.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: text,
	})
	return p
}
