// Package table reads header-keyed rows out of the results grid.
package table

import (
	"context"
	"strings"

	"sjsage522/gridharvester/internal/surface"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// RawRow maps header text to cell text for one data row.
type RawRow map[string]string

// Layout describes where the grid and its rows are.
type Layout struct {
	Table       string // results table
	RowSelector string // data rows inside the table
	PagerRow    string // pager row, excluded from header detection
}

// DefaultLayout matches an ASP.NET GridView with the stock row styles.
func DefaultLayout(table string) Layout {
	return Layout{
		Table:       table,
		RowSelector: "tr.RowStyle",
		PagerRow:    "tr.PagerStyle",
	}
}

// Harvester reads the rows of the current page.
type Harvester struct {
	surface surface.Surface
	layout  Layout
}

// NewHarvester creates a Harvester for the given layout.
func NewHarvester(s surface.Surface, layout Layout) *Harvester {
	return &Harvester{surface: s, layout: layout}
}

// HarvestCurrentPage returns the data rows of the currently rendered page in
// table order. A table without data rows yields an empty slice.
func (h *Harvester) HarvestCurrentPage(ctx context.Context) ([]RawRow, error) {
	el, err := surface.First(ctx, h.surface, h.layout.Table)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, apperrors.NewParsing("harvest", "results table not found: "+h.layout.Table, nil)
	}

	html, err := el.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return h.layout.Parse(html)
}

// Parse extracts rows from the outer HTML of the results table.
func (l Layout) Parse(html string) ([]RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.NewParsing("harvest", "failed to parse results table", err)
	}

	headers := l.headers(doc.Selection)

	rows := make([]RawRow, 0)
	doc.Find(l.RowSelector).Each(func(_ int, tr *goquery.Selection) {
		if l.inPager(tr) {
			return
		}
		cells := tr.ChildrenFiltered("td")
		row := make(RawRow, len(headers))
		for i, h := range headers {
			if i < cells.Length() {
				row[h] = collapse(cells.Eq(i).Text())
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	})

	return rows, nil
}

// headers returns the text of the first header row outside the pager.
func (l Layout) headers(root *goquery.Selection) []string {
	var headers []string
	root.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if l.inPager(tr) {
			return true
		}
		ths := tr.ChildrenFiltered("th")
		if ths.Length() == 0 {
			return true
		}
		ths.Each(func(_ int, th *goquery.Selection) {
			headers = append(headers, collapse(th.Text()))
		})
		return false
	})
	return headers
}

func (l Layout) inPager(s *goquery.Selection) bool {
	if l.PagerRow == "" {
		return false
	}
	return s.Is(l.PagerRow) || s.ParentsFiltered(l.PagerRow).Length() > 0
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
