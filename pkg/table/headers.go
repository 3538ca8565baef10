package table

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/sheetqa/internal/models"
)

// ExtractHeaders returns the row labels (first cell of every row after the
// notes row) and the column labels (notes row cells after the first).
//
// Every table in the document is visited and the last one wins.
func ExtractHeaders(html string) (models.HeaderSet, error) {
	var headers models.HeaderSet

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return headers, &ParseError{Step: "extract headers", Err: err}
	}

	tables := doc.Find("table")
	if tables.Length() == 0 {
		return headers, &ParseError{Step: "extract headers", Err: ErrTableNotFound}
	}

	tables.Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() == 0 {
			headers = models.HeaderSet{}
			return
		}

		colHeaders := []string{}
		rows.First().Find("td").Each(func(i int, cell *goquery.Selection) {
			if i > 0 {
				colHeaders = append(colHeaders, strings.TrimSpace(cell.Text()))
			}
		})

		rowHeaders := make([]string, 0, rows.Length()-1)
		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			rowHeaders = append(rowHeaders, strings.TrimSpace(row.Find("td").First().Text()))
		})

		headers = models.HeaderSet{RowHeaders: rowHeaders, ColHeaders: colHeaders}
	})

	return headers, nil
}
