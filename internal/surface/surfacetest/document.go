// Package surfacetest provides a scripted ASP.NET GridView search page that
// implements surface.Surface without a browser.
//
// Postbacks (search, page change, page size change) are queued when their
// control is clicked or selected and applied after Latency frames. Applying a
// postback re-renders the grid region, which detaches every element that was
// queried from the previous rendering.
package surfacetest

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"sjsage522/gridharvester/internal/surface"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// Element ids and names used by the scripted page. They match the defaults of
// the config package so tests can use the production layouts unchanged.
const (
	FilterID     = "FormContentPlaceHolder_Panel_stateDropDownList"
	FixedID      = "FormContentPlaceHolder_Panel_freelanceDropDownList"
	SearchID     = "FormContentPlaceHolder_Panel_searchButtonStrip_searchButton"
	GridID       = "FormContentPlaceHolder_Panel_resultsGrid"
	GridName     = "ctl00$FormContentPlaceHolder$Panel$resultsGrid"
	PageSizeName = "ctl00$FormContentPlaceHolder$Panel$resultsGrid$ctl13$ctl03"
)

// Headers are the column headers of the rendered grid.
var Headers = []string{"Name", "City", "State"}

// Option is one <option> of a select control.
type Option struct {
	Label string
	Value string
}

type postback struct {
	name      string
	remaining int
	hang      bool
	apply     func()
}

// Document is the scripted page. Exported fields configure it and must be set
// before the first call through the Surface interface.
type Document struct {
	mu sync.Mutex

	Options         []Option
	FixedOptions    []Option
	Rows            map[string]int
	PageSizes       []int
	PageButtons     int
	Latency         int
	HangSearch      map[string]bool
	HangPageSize    bool
	HideSinglePager bool

	selected map[string]string
	filter   string
	searched bool
	page     int
	pageSize int
	gen      int
	pending  *postback
	killed   bool
	closed   bool
	frames   int
	clicks   []string
	visited  []string
	url      string
}

var _ surface.Surface = (*Document)(nil)

// New creates a document whose filter control offers options (a placeholder
// with an empty value is prepended) and whose searches match rows[value] rows.
func New(options []Option, rows map[string]int) *Document {
	return &Document{
		Options: append([]Option{{Label: "-- Select a State --", Value: ""}}, options...),
		FixedOptions: []Option{
			{Label: "-- Any --", Value: ""},
			{Label: "Yes", Value: "1"},
			{Label: "No", Value: "0"},
		},
		Rows:        rows,
		PageSizes:   []int{10, 25, 50},
		PageButtons: 10,
		Latency:     2,
		HangSearch:  map[string]bool{},
		selected:    map[string]string{},
		pageSize:    10,
	}
}

// Kill makes every subsequent call fail as if the browser had crashed.
func (d *Document) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = true
}

// Clicks returns the postback targets clicked so far ("search", "Page$2", ...).
func (d *Document) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

// Visited returns "<filter>:<page>" for every grid rendering that was applied.
func (d *Document) Visited() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visited...)
}

// CurrentPage returns the page index of the rendered grid.
func (d *Document) CurrentPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page
}

// PageSize returns the page size of the rendered grid.
func (d *Document) PageSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageSize
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// URL returns the last navigated URL.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Label returns the display label of a filter value.
func (d *Document) Label(value string) string {
	for _, o := range d.Options {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// Row returns the cells of the i-th (0-based) matching row for a filter value.
func (d *Document) Row(value string, i int) []string {
	label := d.Label(value)
	return []string{
		fmt.Sprintf("%s Member %03d", label, i+1),
		fmt.Sprintf("City %d", i%7+1),
		label,
	}
}

// Search performs an immediate search, bypassing the postback queue.
func (d *Document) Search(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selected[FilterID] = value
	d.applySearch(value)
}

// GoTo moves the rendered grid to page n immediately.
func (d *Document) GoTo(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyPage(n)
}

func (d *Document) lost(step string) error {
	return apperrors.NewSessionLost(step, fmt.Errorf("scripted session killed"))
}

func (d *Document) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.killed {
		return d.lost("navigate")
	}
	d.url = url
	d.searched = false
	d.pending = nil
	d.gen++
	return nil
}

func (d *Document) Select(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.killed {
		return d.lost("select")
	}

	sel := d.render().Find(selector).First()
	if sel.Length() == 0 || goquery.NodeName(sel) != "select" {
		return fmt.Errorf("select: no <select> matches %q", selector)
	}
	if sel.Find(fmt.Sprintf("option[value=%q]", value)).Length() == 0 {
		return fmt.Errorf("select: %q has no option %q", selector, value)
	}

	if name, _ := sel.Attr("name"); name == PageSizeName {
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("select: page size %q: %w", value, err)
		}
		d.pending = &postback{
			name:      "pagesize",
			remaining: d.Latency,
			hang:      d.HangPageSize,
			apply: func() {
				d.pageSize = size
				d.applyPage(1)
			},
		}
		return nil
	}

	id, _ := sel.Attr("id")
	d.selected[id] = value
	return nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]surface.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.killed {
		return nil, d.lost("query")
	}

	var out []surface.Element
	d.render().Find(selector).Each(func(_ int, s *goquery.Selection) {
		outer, _ := goquery.OuterHtml(s)
		el := &element{doc: d, gen: -1, html: outer}
		if s.Closest("#"+GridID).Length() > 0 {
			el.gen = d.gen
		}
		if id, ok := s.Attr("id"); ok && id == SearchID {
			el.action = "search"
		}
		if href, ok := s.Attr("href"); ok {
			el.action = pageTarget(href)
		}
		out = append(out, el)
	})
	return out, nil
}

func (d *Document) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.killed {
		return "", d.lost("content")
	}
	return d.renderHTML(), nil
}

// NextFrame advances the scripted clock by one frame and applies a queued
// postback once its latency has elapsed.
func (d *Document) NextFrame(ctx context.Context) error {
	d.mu.Lock()
	if d.killed {
		d.mu.Unlock()
		return d.lost("frame")
	}
	d.frames++
	if p := d.pending; p != nil && !p.hang {
		p.remaining--
		if p.remaining <= 0 {
			d.pending = nil
			p.apply()
		}
	}
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Microsecond):
		return nil
	}
}

func (d *Document) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.killed {
		return nil, d.lost("screenshot")
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Document) click(action string) {
	d.clicks = append(d.clicks, action)
	switch {
	case action == "search":
		value := d.selected[FilterID]
		d.pending = &postback{
			name:      "search",
			remaining: d.Latency,
			hang:      d.HangSearch[value],
			apply:     func() { d.applySearch(value) },
		}
	case strings.HasPrefix(action, "Page$"):
		target := strings.TrimPrefix(action, "Page$")
		d.pending = &postback{
			name:      action,
			remaining: d.Latency,
			apply: func() {
				switch target {
				case "First":
					d.applyPage(1)
				case "Last":
					d.applyPage(d.totalPages())
				default:
					n, _ := strconv.Atoi(target)
					d.applyPage(n)
				}
			},
		}
	}
}

func (d *Document) applySearch(value string) {
	d.filter = value
	d.searched = true
	d.applyPage(1)
}

func (d *Document) applyPage(n int) {
	d.page = n
	d.gen++
	d.visited = append(d.visited, fmt.Sprintf("%s:%d", d.filter, n))
}

func (d *Document) totalPages() int {
	total := d.Rows[d.filter]
	pages := (total + d.pageSize - 1) / d.pageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

func (d *Document) render() *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.renderHTML()))
	if err != nil {
		panic(err)
	}
	return doc
}

func (d *Document) renderHTML() string {
	var b strings.Builder
	b.WriteString("<html><body><form id=\"aspnetForm\">")
	writeSelect(&b, FilterID, "ctl00$FormContentPlaceHolder$Panel$stateDropDownList", d.Options, d.selected[FilterID])
	writeSelect(&b, FixedID, "ctl00$FormContentPlaceHolder$Panel$freelanceDropDownList", d.FixedOptions, d.selected[FixedID])
	fmt.Fprintf(&b, `<input type="submit" id="%s" value="Search"/>`, SearchID)
	if d.searched {
		d.writeGrid(&b)
	}
	b.WriteString("</form></body></html>")
	return b.String()
}

func (d *Document) writeGrid(b *strings.Builder) {
	fmt.Fprintf(b, `<table id="%s"><tbody><tr class="HeaderStyle">`, GridID)
	for _, h := range Headers {
		fmt.Fprintf(b, `<th scope="col">%s</th>`, html.EscapeString(h))
	}
	b.WriteString("</tr>")

	total := d.Rows[d.filter]
	start := (d.page - 1) * d.pageSize
	end := start + d.pageSize
	if end > total {
		end = total
	}
	for i := start; i < end; i++ {
		b.WriteString(`<tr class="RowStyle">`)
		for _, cell := range d.Row(d.filter, i) {
			fmt.Fprintf(b, "<td>%s</td>", html.EscapeString(cell))
		}
		b.WriteString("</tr>")
	}

	pages := d.totalPages()
	if pages > 1 || !d.HideSinglePager {
		fmt.Fprintf(b, `<tr class="PagerStyle"><td colspan="%d"><table><tbody><tr>`, len(Headers))
		d.writePager(b, pages)
		b.WriteString("</tr></tbody></table></td></tr>")
	}

	fmt.Fprintf(b, `<tr class="FooterStyle"><td colspan="%d">Page size `, len(Headers))
	sizes := make([]Option, 0, len(d.PageSizes))
	for _, s := range d.PageSizes {
		v := strconv.Itoa(s)
		sizes = append(sizes, Option{Label: v, Value: v})
	}
	writeSelect(b, "", PageSizeName, sizes, strconv.Itoa(d.pageSize))
	b.WriteString("</td></tr></tbody></table>")
}

// writePager renders a NumericFirstLast pager with PageButtons numbered cells.
func (d *Document) writePager(b *strings.Builder, pages int) {
	window := d.PageButtons
	if window < 1 {
		window = 10
	}
	start := ((d.page-1)/window)*window + 1
	end := start + window - 1
	if end > pages {
		end = pages
	}

	link := func(target, text string) {
		fmt.Fprintf(b, `<td><a href="javascript:__doPostBack('%s','Page$%s')">%s</a></td>`, GridName, target, text)
	}

	if start > 1 {
		link("First", "First")
		link(strconv.Itoa(start-1), "...")
	}
	for n := start; n <= end; n++ {
		if n == d.page {
			fmt.Fprintf(b, "<td><span>%d</span></td>", n)
			continue
		}
		link(strconv.Itoa(n), strconv.Itoa(n))
	}
	if end < pages {
		link(strconv.Itoa(end+1), "...")
		link("Last", "Last")
	}
}

func writeSelect(b *strings.Builder, id, name string, options []Option, selected string) {
	b.WriteString("<select")
	if id != "" {
		fmt.Fprintf(b, ` id="%s"`, id)
	}
	fmt.Fprintf(b, ` name="%s">`, html.EscapeString(name))
	for _, o := range options {
		attr := ""
		if o.Value == selected {
			attr = ` selected="selected"`
		}
		fmt.Fprintf(b, `<option value="%s"%s>%s</option>`, html.EscapeString(o.Value), attr, html.EscapeString(o.Label))
	}
	b.WriteString("</select>")
}

// pageTarget extracts "Page$N" from a __doPostBack href.
func pageTarget(href string) string {
	i := strings.Index(href, "'Page$")
	if i < 0 {
		return ""
	}
	rest := href[i+1:]
	j := strings.Index(rest, "'")
	if j < 0 {
		return ""
	}
	return rest[:j]
}

type element struct {
	doc    *Document
	gen    int // -1 for elements outside the grid region
	html   string
	action string
}

func (e *element) attached() bool {
	if e.gen < 0 {
		return true
	}
	return e.doc.searched && e.gen == e.doc.gen
}

func (e *element) Attached(ctx context.Context) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.doc.killed {
		return false, e.doc.lost("attached")
	}
	return e.attached(), nil
}

func (e *element) Click(ctx context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.doc.killed {
		return e.doc.lost("click")
	}
	if !e.attached() {
		return fmt.Errorf("click: element is detached from the document")
	}
	if e.action != "" {
		e.doc.click(e.action)
	}
	return nil
}

func (e *element) HTML(ctx context.Context) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.doc.killed {
		return "", e.doc.lost("html")
	}
	return e.html, nil
}
