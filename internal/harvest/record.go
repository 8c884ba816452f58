package harvest

import (
	"context"
	"time"

	"sjsage522/gridharvester/internal/table"
)

// Record is one harvested row with the context it was harvested in.
type Record struct {
	RunID       string            `json:"run_id"`
	Filter      string            `json:"filter"`
	FilterKey   string            `json:"filter_key"`
	Filters     map[string]string `json:"filters"`
	Page        int               `json:"page"`
	Row         int               `json:"row"`
	Fields      table.RawRow      `json:"fields"`
	HarvestedAt time.Time         `json:"harvested_at"`
}

// Sink receives the records of each confirmed page, in harvest order.
type Sink interface {
	Emit(ctx context.Context, records []Record) error
}

// Checkpoint remembers filter combinations that were harvested completely.
type Checkpoint interface {
	Done(key string) bool
	Mark(key string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, records []Record) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, records []Record) error {
	return f(ctx, records)
}
