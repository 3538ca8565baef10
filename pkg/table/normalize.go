package table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultMarkerClass = "waffle"
	DefaultStylesheet  = "resources/sheet.css"

	// invisibleSeparator is inserted by spreadsheet exporters into cells that
	// look empty.
	invisibleSeparator = "\u2063"

	softmergeStyle = "width: auto; overflow: hidden; padding: 5px; margin: 0; text-overflow: ellipsis;"

	borderStyles = `<style>
     table {
                border-collapse: collapse;
            }
            td {
                border: 1px solid black;
                padding: 8px;
            }
</style>`
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrNoRows        = errors.New("table has no rows")
)

// ParseError reports that the expected table structure could not be located
// in a document.
type ParseError struct {
	Step string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type NormalizerConfig struct {
	MarkerClass string
	Stylesheet  string
}

type Normalizer struct {
	config NormalizerConfig
}

func NewWithConfig(config NormalizerConfig) *Normalizer {
	if config.MarkerClass == "" {
		config.MarkerClass = DefaultMarkerClass
	}
	if config.Stylesheet == "" {
		config.Stylesheet = DefaultStylesheet
	}
	return &Normalizer{config: config}
}

func New() *Normalizer {
	return NewWithConfig(NormalizerConfig{})
}

// Normalize drops blank columns, then blank rows, then rewrites the styling
// so the table renders with visible borders.
func Normalize(html string) (string, error) {
	return New().Normalize(html)
}

func (n *Normalizer) Normalize(html string) (string, error) {
	html, err := n.RemoveEmptyColumns(html)
	if err != nil {
		return "", err
	}
	html, err = n.RemoveEmptyRows(html)
	if err != nil {
		return "", err
	}
	return n.UpdateTextStyles(html)
}

// RemoveEmptyColumns walks column positions left to right against the rows as
// they are at that moment, so a removal shifts the cells that later
// positions refer to.
func (n *Normalizer) RemoveEmptyColumns(html string) (string, error) {
	doc, table, err := n.findTable(html, "remove empty columns")
	if err != nil {
		return "", err
	}

	maxColumns := 0
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if c := row.Find("td").Length(); c > maxColumns {
			maxColumns = c
		}
	})

	for col := 0; col < maxColumns; col++ {
		empty := true
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("td")
			if col < cells.Length() && !isBlank(cells.Eq(col).Text()) {
				empty = false
			}
			return empty
		})
		if !empty {
			continue
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if col < cells.Length() {
				cells.Eq(col).Remove()
			}
		})
	}

	return render(doc)
}

// RemoveEmptyRows drops every row whose cells are all blank. A row without
// any td cell counts as blank.
func (n *Normalizer) RemoveEmptyRows(html string) (string, error) {
	doc, table, err := n.findTable(html, "remove empty rows")
	if err != nil {
		return "", err
	}

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		blank := true
		row.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			blank = isBlank(cell.Text())
			return blank
		})
		if blank {
			row.Remove()
		}
	})

	return render(doc)
}

// UpdateTextStyles removes the exporter stylesheet link, keeps merged cells
// from overflowing and prepends the border styles.
func (n *Normalizer) UpdateTextStyles(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", &ParseError{Step: "update text styles", Err: err}
	}

	selector := fmt.Sprintf(`link[type="text/css"][rel="stylesheet"][href=%q]`, n.config.Stylesheet)
	doc.Find(selector).First().Remove()

	doc.Find(".softmerge-inner").SetAttr("style", softmergeStyle)

	out, err := render(doc)
	if err != nil {
		return "", err
	}
	return borderStyles + out, nil
}

func (n *Normalizer) findTable(html, step string) (*goquery.Document, *goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, &ParseError{Step: step, Err: err}
	}
	table := doc.Find("table." + n.config.MarkerClass).First()
	if table.Length() == 0 {
		return nil, nil, &ParseError{
			Step: step,
			Err:  fmt.Errorf("%w: no table with class %q", ErrTableNotFound, n.config.MarkerClass),
		}
	}
	return doc, table, nil
}

func render(doc *goquery.Document) (string, error) {
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

func isBlank(text string) bool {
	return strings.ReplaceAll(strings.TrimSpace(text), invisibleSeparator, "") == ""
}
