// Package pager interprets the numbered pager of the results grid and moves
// between result pages.
//
// The pager changes shape with the size of the result set and the current
// page: it may be missing altogether, show the current page as a plain marker
// among links, hide far pages behind "..." links, or add jump-to-first and
// jump-to-last controls. Every decision is made on a Shape read from the live
// document right before it is needed.
package pager

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sjsage522/gridharvester/internal/settle"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// Kind tags a pager State.
type Kind int

const (
	// NoFurtherPages means the requested page is not reachable.
	NoFurtherPages Kind = iota
	// LinkAvailable means a clickable link to the page exists.
	LinkAvailable
	// CurrentPageMarker means the page is the one currently shown.
	CurrentPageMarker
)

// State is the pager's answer for one page number.
type State struct {
	Kind Kind
	Page int
}

func (s State) String() string {
	switch s.Kind {
	case LinkAvailable:
		return fmt.Sprintf("LinkAvailable(%d)", s.Page)
	case CurrentPageMarker:
		return fmt.Sprintf("CurrentPageMarker(%d)", s.Page)
	default:
		return "NoFurtherPages"
	}
}

// Layout describes the pager markup.
type Layout struct {
	Table       string         // results table, tracked for staleness
	Container   string         // pager region
	LinkFormat  string         // link locator, formatted with the postback target
	Target      *regexp.Regexp // extracts the postback target from a link href
	FirstTarget string         // target of the jump-to-first control
	LastTarget  string         // target of the jump-to-last control
}

// DefaultLayout describes an ASP.NET GridView pager. The link locator quotes
// the target so that page 1 never matches the link of page 10.
func DefaultLayout(table string) Layout {
	return Layout{
		Table:       table,
		Container:   "tr.PagerStyle",
		LinkFormat:  `a[href*="'Page$%s'"]`,
		Target:      regexp.MustCompile(`'Page\$([^']+)'`),
		FirstTarget: "First",
		LastTarget:  "Last",
	}
}

// LinkSelector returns the locator of the link with the given postback target.
func (l Layout) LinkSelector(target string) string {
	return l.Container + " " + fmt.Sprintf(l.LinkFormat, target)
}

// Shape is the pager as rendered at one instant.
type Shape struct {
	Present bool         // pager region exists
	Links   map[int]bool // pages with a clickable link
	Current int          // page shown as the current-page marker, 0 when none
	First   bool         // jump-to-first control present
	Last    bool         // jump-to-last control present
}

// Recognized is false when a pager is rendered without a current-page marker.
func (s Shape) Recognized() bool {
	return !s.Present || s.Current > 0
}

// StateFor returns the pager state for page n.
func (s Shape) StateFor(n int) State {
	switch {
	case s.Current == n:
		return State{Kind: CurrentPageMarker, Page: n}
	case s.Links[n]:
		return State{Kind: LinkAvailable, Page: n}
	default:
		return State{Kind: NoFurtherPages, Page: n}
	}
}

// ParseShape reads the pager out of an HTML document or fragment.
func (l Layout) ParseShape(html string) (Shape, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Shape{}, apperrors.NewParsing("pager", "failed to parse pager", err)
	}

	shape := Shape{Links: map[int]bool{}}
	container := doc.Find(l.Container).First()
	if container.Length() == 0 {
		return shape, nil
	}
	shape.Present = true

	container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := l.Target.FindStringSubmatch(href)
		if m == nil {
			return
		}
		switch target := m[1]; target {
		case l.FirstTarget:
			shape.First = true
		case l.LastTarget:
			shape.Last = true
		default:
			if n, err := strconv.Atoi(target); err == nil {
				shape.Links[n] = true
			}
		}
	})

	container.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("a").Length() > 0 {
			return true
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > 0 {
			shape.Current = n
			return false
		}
		return true
	})

	return shape, nil
}

// Interpreter drives the pager of one surface.
type Interpreter struct {
	surface surface.Surface
	waiter  *settle.Waiter
	layout  Layout
	log     *logger.Logger
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(s surface.Surface, w *settle.Waiter, layout Layout) *Interpreter {
	return &Interpreter{
		surface: s,
		waiter:  w,
		layout:  layout,
		log:     logger.ForPager(),
	}
}

// Inspect reads the current pager shape.
func (p *Interpreter) Inspect(ctx context.Context) (Shape, error) {
	html, err := p.surface.Content(ctx)
	if err != nil {
		return Shape{}, err
	}
	return p.layout.ParseShape(html)
}

// Advance moves the grid to page n.
//
// When n is already current nothing is clicked. When no link to n exists, or
// the pager has no current-page marker, the result is NoFurtherPages.
// Otherwise the link is clicked and Advance returns once the previous table
// is detached and the marker shows n.
func (p *Interpreter) Advance(ctx context.Context, n int) (State, error) {
	shape, err := p.Inspect(ctx)
	if err != nil {
		return State{}, err
	}

	if !shape.Recognized() {
		p.log.Warn().
			Err(apperrors.NewPagerShape("advance", "pager has no current page marker")).
			Int("page", n).
			Msg("Treating unrecognized pager as last page")
		return State{Kind: NoFurtherPages, Page: n}, nil
	}

	state := shape.StateFor(n)
	if state.Kind != LinkAvailable {
		return state, nil
	}

	if err := p.follow(ctx, "page", strconv.Itoa(n), n); err != nil {
		return State{}, err
	}

	p.log.Debug().Int("page", n).Msg("Advanced to page")
	return State{Kind: CurrentPageMarker, Page: n}, nil
}

// Reset returns the grid to page 1. It follows a link to page 1 when there is
// one, then the jump-to-first control, and does nothing when page 1 is
// already shown or there is no pager.
func (p *Interpreter) Reset(ctx context.Context) error {
	shape, err := p.Inspect(ctx)
	if err != nil {
		return err
	}

	switch {
	case shape.Links[1]:
		return p.follow(ctx, "reset", "1", 1)
	case shape.First:
		return p.follow(ctx, "reset", p.layout.FirstTarget, 1)
	case shape.Current == 1 || !shape.Present:
		return nil
	default:
		return apperrors.NewPagerShape("reset", fmt.Sprintf("no way back to page 1 (current %d)", shape.Current))
	}
}

// follow clicks the link with the given target and waits until the table it
// replaces is detached and the marker shows want.
func (p *Interpreter) follow(ctx context.Context, step, target string, want int) error {
	table, err := surface.First(ctx, p.surface, p.layout.Table)
	if err != nil {
		return err
	}

	link, err := surface.First(ctx, p.surface, p.layout.LinkSelector(target))
	if err != nil {
		return err
	}
	if link == nil {
		return apperrors.NewPagerShape(step, "link disappeared: "+target)
	}

	if err := link.Click(ctx); err != nil {
		return err
	}

	preds := []settle.Predicate{p.markerShows(want)}
	if table != nil {
		preds = append([]settle.Predicate{settle.Stale(table)}, preds...)
	}
	return p.waiter.Until(ctx, step, settle.All(preds...))
}

func (p *Interpreter) markerShows(n int) settle.Predicate {
	return func(ctx context.Context) (bool, error) {
		shape, err := p.Inspect(ctx)
		if err != nil {
			return false, err
		}
		return shape.Current == n, nil
	}
}
