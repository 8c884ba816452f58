// Package harvest drives the filter × page crawl of a paginated search grid.
//
// For every filter combination the Orchestrator selects the filter values,
// submits the search, waits for the grid to settle and then pages through all
// results, emitting each page's records once the page is confirmed. Every
// action that re-renders the grid is followed by a wait on the staleness of the
// table that was captured before the action.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sjsage522/gridharvester/internal/filter"
	"sjsage522/gridharvester/internal/pager"
	"sjsage522/gridharvester/internal/settle"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/internal/table"
	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"
	"sjsage522/gridharvester/pkg/metrics"

	"github.com/PuerkitoBio/goquery"
)

// Options configures a crawl.
type Options struct {
	// URL is navigated to before enumerating filters. Empty keeps the
	// current document.
	URL          string
	Dimensions   []filter.Dimension
	SearchButton string
	Table        table.Layout
	Pager        pager.Layout

	// PageSizePattern finds the name of the page size <select> in the
	// document. Nil disables raising the page size.
	PageSizePattern *regexp.Regexp
	// PageSize is the option to pick; empty picks the largest one.
	PageSize      string
	RaisePageSize bool

	// ResetPager returns the grid to page 1 after each filter.
	ResetPager bool
	// MaxFilters limits the number of combinations; 0 harvests all.
	MaxFilters int

	SettleTimeout time.Duration
	PollInterval  time.Duration

	// Checkpoints skips combinations already harvested and records new ones.
	Checkpoints Checkpoint
	// ScreenshotDir receives a screenshot of the page of each aborted filter.
	ScreenshotDir string

	RunID string
}

// Orchestrator runs one crawl over one surface. It is not safe for concurrent use.
type Orchestrator struct {
	surface surface.Surface
	opts    Options
	sink    Sink

	waiter  *settle.Waiter
	filters *filter.Iterator
	pager   *pager.Interpreter
	table   *table.Harvester

	machine       machine
	pageSizeTried bool
	log           *logger.Logger
}

// New creates an Orchestrator that emits to sink.
func New(s surface.Surface, opts Options, sink Sink) *Orchestrator {
	waiter := &settle.Waiter{
		Surface:  s,
		Timeout:  opts.SettleTimeout,
		Interval: opts.PollInterval,
	}
	return &Orchestrator{
		surface: s,
		opts:    opts,
		sink:    sink,
		waiter:  waiter,
		filters: filter.NewIterator(s, opts.Dimensions),
		pager:   pager.NewInterpreter(s, waiter, opts.Pager),
		table:   table.NewHarvester(s, opts.Table),
		log:     logger.ForHarvester().WithStr("run_id", opts.RunID),
	}
}

// State returns the current state of the crawl.
func (o *Orchestrator) State() State {
	return o.machine.state
}

// Run harvests every filter combination. Failures local to one combination
// abort only that combination and are reported in the summary. A lost
// session, an empty filter control or cancellation of ctx stop the crawl and
// are returned together with the partial summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: o.opts.RunID, Started: time.Now()}
	defer func() { summary.Finished = time.Now() }()

	if o.machine.state != Idle {
		return summary, fmt.Errorf("orchestrator already ran (state %s)", o.machine.state)
	}

	if o.opts.URL != "" {
		o.log.Info().Str("url", o.opts.URL).Msg("Opening search page")
		if err := o.surface.Navigate(ctx, o.opts.URL); err != nil {
			return summary, err
		}
	}

	combos, err := o.filters.Enumerate(ctx)
	if err != nil {
		return summary, err
	}
	if o.opts.MaxFilters > 0 && len(combos) > o.opts.MaxFilters {
		o.log.Info().
			Int("available", len(combos)).
			Int("limit", o.opts.MaxFilters).
			Msg("Limiting filter combinations")
		combos = combos[:o.opts.MaxFilters]
	}
	o.log.Info().Int("filters", len(combos)).Msg("Enumerated filter combinations")

	for _, combo := range combos {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if o.opts.Checkpoints != nil && o.opts.Checkpoints.Done(combo.Key()) {
			o.log.Debug().Str("filter", combo.Label()).Msg("Skipping harvested filter")
			summary.Skipped = append(summary.Skipped, combo.Label())
			metrics.FilterOutcomes.WithLabelValues("skipped").Inc()
			continue
		}

		result, err := o.runFilter(ctx, combo)
		if err != nil {
			result.Aborted = true
			result.Err = err
			summary.Filters = append(summary.Filters, result)
			return summary, err
		}
		summary.Filters = append(summary.Filters, result)
	}

	if err := o.machine.to(AllFiltersDone); err != nil {
		return summary, err
	}
	return summary, nil
}

// runFilter harvests one combination and leaves the machine in FilterDone.
// The returned error is set only when it must stop the crawl.
func (o *Orchestrator) runFilter(ctx context.Context, combo filter.Combination) (FilterResult, error) {
	log := logger.ForFilter(combo.Label())
	result := FilterResult{Label: combo.Label(), Key: combo.Key(), Pages: []int{}}

	err := o.harvestFilter(ctx, combo, &result, log)
	if terr := o.machine.to(FilterDone); terr != nil {
		return result, terr
	}

	if err != nil {
		if o.fatal(ctx, err) {
			return result, err
		}
		result.Aborted = true
		result.Err = err
		metrics.FilterOutcomes.WithLabelValues("aborted").Inc()
		log.Warn().
			Err(err).
			Int("records", result.Records).
			Ints("pages", result.Pages).
			Msg("Filter aborted")
		o.screenshot(ctx, combo, log)
		return result, nil
	}

	metrics.FilterOutcomes.WithLabelValues("done").Inc()
	log.Info().
		Int("records", result.Records).
		Int("pages", len(result.Pages)).
		Msg("Filter harvested")

	if o.opts.Checkpoints != nil {
		if err := o.opts.Checkpoints.Mark(combo.Key()); err != nil {
			log.Warn().Err(err).Msg("Failed to record checkpoint")
		}
	}

	if o.opts.ResetPager {
		if err := o.pager.Reset(ctx); err != nil {
			if o.fatal(ctx, err) {
				return result, err
			}
			result.Warnings = append(result.Warnings, err.Error())
			log.Warn().Err(err).Msg("Failed to reset pager")
		}
	}

	return result, nil
}

func (o *Orchestrator) harvestFilter(ctx context.Context, combo filter.Combination, result *FilterResult, log *logger.Logger) error {
	if err := o.machine.to(FilterSelected); err != nil {
		return err
	}
	if err := o.filters.Apply(ctx, combo); err != nil {
		return err
	}

	if err := o.machine.to(AwaitingSettle); err != nil {
		return err
	}
	if err := o.search(ctx); err != nil {
		return err
	}

	if o.opts.RaisePageSize && !o.pageSizeTried {
		o.pageSizeTried = true
		if err := o.raisePageSize(ctx, log); err != nil {
			if !apperrors.Is(err, apperrors.ErrorTypeSyncTimeout) {
				return err
			}
			result.Warnings = append(result.Warnings, err.Error())
			log.Warn().Err(err).Msg("Page size change did not settle, continuing with default page size")
		}
	}

	if err := o.machine.to(PageReady); err != nil {
		return err
	}

	for page := 1; ; page++ {
		rows, err := o.table.HarvestCurrentPage(ctx)
		if err != nil {
			return err
		}
		if err := o.emit(ctx, combo, page, rows); err != nil {
			return err
		}
		result.Pages = append(result.Pages, page)
		result.Records += len(rows)
		log.Debug().Int("page", page).Int("records", len(rows)).Msg("Harvested page")

		if err := o.machine.to(Paginating); err != nil {
			return err
		}
		state, err := o.pager.Advance(ctx, page+1)
		if err != nil {
			return err
		}
		if state.Kind == pager.NoFurtherPages {
			return nil
		}
		if err := o.machine.to(PageReady); err != nil {
			return err
		}
	}
}

// search submits the selected filters and waits until the results table has
// been replaced, or has appeared when there was none before.
func (o *Orchestrator) search(ctx context.Context) error {
	old, err := surface.First(ctx, o.surface, o.opts.Table.Table)
	if err != nil {
		return err
	}

	button, err := surface.First(ctx, o.surface, o.opts.SearchButton)
	if err != nil {
		return err
	}
	if button == nil {
		return apperrors.NewParsing("search", "search button not found: "+o.opts.SearchButton, nil)
	}
	if err := button.Click(ctx); err != nil {
		return err
	}

	present := settle.Present(o.surface, o.opts.Table.Table)
	if old == nil {
		return o.waiter.Until(ctx, "search", present)
	}
	return o.waiter.Until(ctx, "search", settle.All(settle.Stale(old), present))
}

// raisePageSize switches the grid to the configured or largest page size.
func (o *Orchestrator) raisePageSize(ctx context.Context, log *logger.Logger) error {
	if o.opts.PageSizePattern == nil {
		return nil
	}

	html, err := o.surface.Content(ctx)
	if err != nil {
		return err
	}
	name := o.opts.PageSizePattern.FindString(html)
	if name == "" {
		log.Debug().Msg("No page size selector found")
		return nil
	}
	selector := fmt.Sprintf("select[name=%q]", name)

	control, err := surface.First(ctx, o.surface, selector)
	if err != nil {
		return err
	}
	if control == nil {
		log.Debug().Str("name", name).Msg("Page size selector is not a select")
		return nil
	}
	controlHTML, err := control.HTML(ctx)
	if err != nil {
		return err
	}

	target, current, err := pickPageSize(controlHTML, o.opts.PageSize)
	if err != nil {
		return err
	}
	if target == "" || target == current {
		log.Debug().Str("page_size", current).Msg("Page size already selected")
		return nil
	}

	grid, err := surface.First(ctx, o.surface, o.opts.Table.Table)
	if err != nil {
		return err
	}
	if err := o.surface.Select(ctx, selector, target); err != nil {
		return err
	}
	if grid != nil {
		if err := o.waiter.AwaitDetachment(ctx, "page_size", grid); err != nil {
			return err
		}
	}
	if err := o.waiter.Until(ctx, "page_size", settle.Present(o.surface, o.opts.Table.Table)); err != nil {
		return err
	}

	log.Info().Str("from", current).Str("to", target).Msg("Raised page size")
	return nil
}

// pickPageSize returns the option to select and the currently selected one.
// With want empty the largest numeric option is picked.
func pickPageSize(controlHTML, want string) (target, current string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(controlHTML))
	if err != nil {
		return "", "", apperrors.NewParsing("page_size", "failed to parse page size selector", err)
	}

	best := -1
	doc.Find("option").Each(func(i int, s *goquery.Selection) {
		v := strings.TrimSpace(s.AttrOr("value", s.Text()))
		if _, ok := s.Attr("selected"); ok || (i == 0 && current == "") {
			current = v
		}
		if want != "" {
			if v == want {
				target = v
			}
			return
		}
		if n, convErr := strconv.Atoi(v); convErr == nil && n > best {
			best = n
			target = v
		}
	})

	if want != "" && target == "" {
		return "", current, apperrors.NewValidation("page_size", fmt.Sprintf("page size %q is not offered", want))
	}
	return target, current, nil
}

func (o *Orchestrator) emit(ctx context.Context, combo filter.Combination, page int, rows []table.RawRow) error {
	now := time.Now().UTC()
	values := combo.Values()

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		records = append(records, Record{
			RunID:       o.opts.RunID,
			Filter:      combo.Label(),
			FilterKey:   combo.Key(),
			Filters:     values,
			Page:        page,
			Row:         i + 1,
			Fields:      row,
			HarvestedAt: now,
		})
	}

	metrics.PagesHarvested.Inc()
	if len(records) == 0 {
		return nil
	}
	if err := o.sink.Emit(ctx, records); err != nil {
		return err
	}
	metrics.RecordsEmitted.Add(float64(len(records)))
	return nil
}

// fatal reports whether err must stop the whole crawl.
func (o *Orchestrator) fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return apperrors.IsFatal(err)
}

func (o *Orchestrator) screenshot(ctx context.Context, combo filter.Combination, log *logger.Logger) {
	if o.opts.ScreenshotDir == "" {
		return
	}
	data, err := o.surface.Screenshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to capture screenshot")
		return
	}
	name := fmt.Sprintf("%s-%s.png", o.opts.RunID, sanitize(combo.Key()))
	path := filepath.Join(o.opts.ScreenshotDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write screenshot")
		return
	}
	log.Info().Str("path", path).Msg("Saved screenshot of aborted filter")
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}
