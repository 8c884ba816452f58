// Package surface defines the browser automation capability the harvester
// drives, and a go-rod backed implementation of it.
package surface

import "context"

// Element is a reference to one DOM node of the live document. It stays valid
// until the node is detached or the document navigates away.
type Element interface {
	// Attached reports whether the node is still part of the live document.
	Attached(ctx context.Context) (bool, error)

	// Click dispatches a mouse click on the node.
	Click(ctx context.Context) error

	// HTML returns the node's outer HTML.
	HTML(ctx context.Context) (string, error)
}

// Surface is a single automation session bound to one page.
type Surface interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// Select picks the option with the given value on the <select> matched by selector.
	Select(ctx context.Context, selector, value string) error

	// QueryAll returns every element matching the CSS selector, in document order.
	// No match is an empty slice, not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// Content returns the serialized HTML of the whole document.
	Content(ctx context.Context) (string, error)

	// NextFrame blocks until the page has rendered its next frame.
	NextFrame(ctx context.Context) error

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the session.
	Close() error
}

// First returns the first element matching selector, or nil when there is none.
func First(ctx context.Context, s Surface, selector string) (Element, error) {
	els, err := s.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return els[0], nil
}
