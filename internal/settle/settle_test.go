package settle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/internal/surface/surfacetest"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const grid = "#" + surfacetest.GridID

func searchedDocument(t *testing.T) *surfacetest.Document {
	t.Helper()
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, map[string]int{"AL": 35})
	doc.Search("AL")
	return doc
}

func TestAwaitDetachmentAfterPostback(t *testing.T) {
	ctx := context.Background()
	doc := searchedDocument(t)
	w := NewWaiter(doc, time.Second)

	table, err := surface.First(ctx, doc, grid)
	require.NoError(t, err)
	require.NotNil(t, table)

	link, err := surface.First(ctx, doc, `tr.PagerStyle a[href*="'Page$2'"]`)
	require.NoError(t, err)
	require.NotNil(t, link)
	require.NoError(t, link.Click(ctx))

	// The postback has not been applied yet.
	attached, err := table.Attached(ctx)
	require.NoError(t, err)
	assert.True(t, attached)

	require.NoError(t, w.AwaitDetachment(ctx, "page", table))
	assert.Equal(t, 2, doc.CurrentPage())
}

func TestAwaitDetachmentTimesOut(t *testing.T) {
	ctx := context.Background()
	doc := searchedDocument(t)
	w := NewWaiter(doc, 50*time.Millisecond)

	table, err := surface.First(ctx, doc, grid)
	require.NoError(t, err)

	err = w.AwaitDetachment(ctx, "page", table)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeSyncTimeout))
	assert.Contains(t, err.Error(), "page")
}

func TestUntilReturnsParentCancellation(t *testing.T) {
	doc := searchedDocument(t)
	w := NewWaiter(doc, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := w.Until(ctx, "search", func(context.Context) (bool, error) { return false, nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, apperrors.Is(err, apperrors.ErrorTypeSyncTimeout))
}

func TestUntilPropagatesSessionLost(t *testing.T) {
	ctx := context.Background()
	doc := searchedDocument(t)
	w := NewWaiter(doc, time.Second)

	table, err := surface.First(ctx, doc, grid)
	require.NoError(t, err)
	doc.Kill()

	err = w.AwaitDetachment(ctx, "page", table)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeSessionLost))
	assert.True(t, apperrors.IsFatal(err))
}

type countdownElement struct {
	left atomic.Int32
}

func (e *countdownElement) Attached(context.Context) (bool, error) {
	return e.left.Add(-1) > 0, nil
}

func (e *countdownElement) Click(context.Context) error { return nil }

func (e *countdownElement) HTML(context.Context) (string, error) { return "<table></table>", nil }

func TestUntilWithInterval(t *testing.T) {
	el := &countdownElement{}
	el.left.Store(3)

	w := &Waiter{Surface: searchedDocument(t), Timeout: time.Second, Interval: time.Millisecond}
	require.NoError(t, w.AwaitDetachment(context.Background(), "page", el))
	assert.Equal(t, int32(0), el.left.Load())
}

func TestPresentAndAll(t *testing.T) {
	ctx := context.Background()
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, map[string]int{"AL": 3})

	ok, err := Present(doc, grid)(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	doc.Search("AL")
	ok, err = Present(doc, grid)(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	calls := 0
	never := func(context.Context) (bool, error) { calls++; return false, nil }
	ok, err = All(never, Present(doc, grid))(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)

	ok, err = All(Present(doc, grid), Present(doc, "tr.RowStyle"))(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
