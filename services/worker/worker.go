package worker

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"sjsage522/gridharvester/config"
	"sjsage522/gridharvester/internal/filter"
	"sjsage522/gridharvester/internal/harvest"
	"sjsage522/gridharvester/internal/pager"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/internal/table"
	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"
	"sjsage522/gridharvester/pkg/metrics"
	"sjsage522/gridharvester/services/publisher"

	"github.com/google/uuid"
)

// SessionFactory opens a new automation session
type SessionFactory func(ctx context.Context) (surface.Surface, error)

// Worker handles the harvesting and publishing process
type Worker struct {
	ctx           context.Context
	newSession    SessionFactory
	publisher     publisher.Publisher
	opts          harvest.Options
	crawlInterval time.Duration
	log           *logger.Logger
}

// NewWorker creates a new worker. opts is used as the template of every run;
// its RunID is replaced per run.
func NewWorker(
	ctx context.Context,
	newSession SessionFactory,
	pub publisher.Publisher,
	opts harvest.Options,
	crawlInterval time.Duration,
) *Worker {
	return &Worker{
		ctx:           ctx,
		newSession:    newSession,
		publisher:     pub,
		opts:          opts,
		crawlInterval: crawlInterval,
		log:           logger.ForWorker(),
	}
}

// OptionsFromConfig builds the harvest options described by cfg
func OptionsFromConfig(cfg *config.Config) (harvest.Options, error) {
	tableLayout := table.DefaultLayout(cfg.ResultsTable)
	tableLayout.RowSelector = cfg.RowSelector
	tableLayout.PagerRow = cfg.PagerSelector

	pagerLayout := pager.DefaultLayout(cfg.ResultsTable)
	pagerLayout.Container = cfg.PagerSelector

	var pattern *regexp.Regexp
	if cfg.PageSizePattern != "" {
		var err error
		pattern, err = regexp.Compile(cfg.PageSizePattern)
		if err != nil {
			return harvest.Options{}, apperrors.NewConfiguration("invalid PAGE_SIZE_PATTERN", err)
		}
	}

	return harvest.Options{
		URL:             cfg.HarvestURL,
		Dimensions:      append([]filter.Dimension(nil), cfg.Filters...),
		SearchButton:    cfg.SearchButton,
		Table:           tableLayout,
		Pager:           pagerLayout,
		PageSizePattern: pattern,
		PageSize:        cfg.PageSize,
		RaisePageSize:   cfg.RaisePageSize,
		ResetPager:      cfg.ResetPager,
		MaxFilters:      cfg.MaxFilters,
		SettleTimeout:   cfg.SettleTimeout,
		PollInterval:    cfg.PollInterval,
		ScreenshotDir:   cfg.ScreenshotDir,
	}, nil
}

// Start runs harvests until the context is cancelled. With a zero crawl
// interval it runs once and returns that run's error.
func (w *Worker) Start() error {
	for {
		start := time.Now()
		_, err := w.RunOnce()
		w.log.Info().Dur("elapsed", time.Since(start)).Msg("Harvest run completed")

		if w.crawlInterval <= 0 {
			return err
		}
		if err != nil && w.ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Harvest run failed, retrying at next interval")
		}

		select {
		case <-w.ctx.Done():
			return nil
		case <-time.After(w.crawlInterval):
		}
	}
}

// RunOnce opens a session, harvests every filter combination and closes the
// session again
func (w *Worker) RunOnce() (*harvest.Summary, error) {
	runID := uuid.NewString()
	log := w.log.WithStr("run_id", runID)

	session, err := w.newSession(w.ctx)
	if err != nil {
		return nil, apperrors.NewSessionLost("open", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	opts := w.opts
	opts.RunID = runID

	summary, runErr := harvest.New(session, opts, w).Run(w.ctx)
	summary.Log(log)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Harvest stopped")
	}

	// Trim all streams after harvesting
	if err := w.publisher.TrimStreams(); err != nil {
		logger.LogError("publisher", err, "failed to trim streams")
	}

	return summary, runErr
}

// Emit publishes every record as JSON keyed by its filter combination
func (w *Worker) Emit(ctx context.Context, records []harvest.Record) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return apperrors.NewPublisher("marshal", "failed to encode record", err)
		}
		if err := w.publisher.Publish(rec.FilterKey, data); err != nil {
			metrics.PublishErrors.Inc()
			return err
		}
	}

	if logger.IsDebugEnabled() && len(records) > 0 {
		first, _ := json.Marshal(records[0].Fields)
		w.log.Debug().
			Str("filter", records[0].Filter).
			Int("page", records[0].Page).
			RawJSON("first", first).
			Msg("Published page")
	}
	return nil
}

var _ harvest.Sink = (*Worker)(nil)
