package harvest

import (
	"time"

	"sjsage522/gridharvester/logger"
)

// FilterResult is the outcome of one filter combination.
type FilterResult struct {
	Label    string   `json:"label"`
	Key      string   `json:"key"`
	Pages    []int    `json:"pages"`
	Records  int      `json:"records"`
	Aborted  bool     `json:"aborted"`
	Err      error    `json:"-"`
	Warnings []string `json:"warnings,omitempty"`
}

// Summary reports a whole crawl.
type Summary struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Filters  []FilterResult `json:"filters"`
	Skipped  []string       `json:"skipped,omitempty"`
}

// Records returns the number of records emitted over all filters.
func (s *Summary) Records() int {
	total := 0
	for _, f := range s.Filters {
		total += f.Records
	}
	return total
}

// Aborted returns the filters whose iteration did not complete.
func (s *Summary) Aborted() []FilterResult {
	var out []FilterResult
	for _, f := range s.Filters {
		if f.Aborted {
			out = append(out, f)
		}
	}
	return out
}

// Log writes the per-filter record counts and the aborted filters.
func (s *Summary) Log(log *logger.Logger) {
	for _, f := range s.Filters {
		if f.Aborted {
			log.Warn().
				Err(f.Err).
				Str("filter", f.Label).
				Int("records", f.Records).
				Ints("pages", f.Pages).
				Msg("Filter aborted")
			continue
		}
		log.Info().
			Str("filter", f.Label).
			Int("records", f.Records).
			Int("pages", len(f.Pages)).
			Strs("warnings", f.Warnings).
			Msg("Filter harvested")
	}

	aborted := make([]string, 0)
	for _, f := range s.Aborted() {
		aborted = append(aborted, f.Label)
	}

	log.Info().
		Str("run_id", s.RunID).
		Int("filters", len(s.Filters)).
		Int("records", s.Records()).
		Strs("aborted", aborted).
		Int("skipped", len(s.Skipped)).
		Dur("elapsed", s.Finished.Sub(s.Started)).
		Msg("Harvest finished")
}
