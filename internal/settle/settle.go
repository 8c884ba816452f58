// Package settle waits for asynchronous partial-page updates to complete.
//
// The target UI never reports that an update finished. The reliable signal is
// that the old subtree is replaced wholesale, so a handle captured before the
// triggering action detaches exactly when the new content is in place. All
// waits poll a predicate over the live document, once per rendered frame by
// default, and give up with a SyncTimeout after a bounded time.
package settle

import (
	"context"
	"errors"
	"time"

	"sjsage522/gridharvester/internal/surface"
	apperrors "sjsage522/gridharvester/pkg/errors"
	"sjsage522/gridharvester/pkg/metrics"
)

// DefaultTimeout bounds a single wait when the Waiter has no timeout set.
const DefaultTimeout = 30 * time.Second

// Predicate reports whether the awaited condition holds.
type Predicate func(ctx context.Context) (bool, error)

// Waiter polls predicates against a surface.
type Waiter struct {
	Surface surface.Surface
	// Timeout bounds each wait.
	Timeout time.Duration
	// Interval between polls; zero polls once per rendered frame.
	Interval time.Duration
}

// NewWaiter creates a frame-aligned waiter.
func NewWaiter(s surface.Surface, timeout time.Duration) *Waiter {
	return &Waiter{Surface: s, Timeout: timeout}
}

func (w *Waiter) timeout() time.Duration {
	if w.Timeout <= 0 {
		return DefaultTimeout
	}
	return w.Timeout
}

// Until blocks until pred holds. It returns a SyncTimeout when the waiter's
// timeout elapses, the parent context's error when ctx ends first, and any
// error returned by pred as is.
func (w *Waiter) Until(ctx context.Context, step string, pred Predicate) error {
	timeout := w.timeout()
	start := time.Now()
	defer func() {
		metrics.SettleWait.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}()

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var ticker *time.Ticker
	if w.Interval > 0 {
		ticker = time.NewTicker(w.Interval)
		defer ticker.Stop()
	}

	for {
		ok, err := pred(wctx)
		if err != nil {
			return w.translate(ctx, wctx, step, err)
		}
		if ok {
			return nil
		}

		if ticker == nil {
			err = w.Surface.NextFrame(wctx)
		} else {
			select {
			case <-ticker.C:
			case <-wctx.Done():
				err = wctx.Err()
			}
		}
		if err != nil {
			return w.translate(ctx, wctx, step, err)
		}
	}
}

// translate maps an expired wait context onto SyncTimeout while keeping
// cancellation of the parent context visible to the caller.
func (w *Waiter) translate(parent, wctx context.Context, step string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if wctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		metrics.SyncTimeouts.WithLabelValues(step).Inc()
		return apperrors.NewSyncTimeout(step, w.timeout())
	}
	return err
}

// AwaitDetachment blocks until el is no longer part of the live document.
func (w *Waiter) AwaitDetachment(ctx context.Context, step string, el surface.Element) error {
	return w.Until(ctx, step, Stale(el))
}

// Stale holds once el is detached.
func Stale(el surface.Element) Predicate {
	return func(ctx context.Context) (bool, error) {
		attached, err := el.Attached(ctx)
		if err != nil {
			return false, err
		}
		return !attached, nil
	}
}

// Present holds once at least one element matches selector.
func Present(s surface.Surface, selector string) Predicate {
	return func(ctx context.Context) (bool, error) {
		els, err := s.QueryAll(ctx, selector)
		if err != nil {
			return false, err
		}
		return len(els) > 0, nil
	}
}

// All holds when every predicate holds. Predicates are evaluated in order and
// evaluation stops at the first one that does not hold.
func All(preds ...Predicate) Predicate {
	return func(ctx context.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
