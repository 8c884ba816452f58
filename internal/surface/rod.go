package surface

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	healthCheckTimeout = 5 * time.Second

	// DefaultActionTimeout bounds a click or select when Options leaves it unset.
	DefaultActionTimeout = 30 * time.Second
)

// Options configures the browser session
type Options struct {
	Bin           string // Chrome/Chromium binary, looked up when empty
	Headless      bool
	Proxy         string // host:port passed to --proxy-server
	Width         int
	Height        int
	ActionTimeout time.Duration // upper bound for one click or select
}

// Rod wraps the Rod browser and the single page the harvester drives
type Rod struct {
	browser       *rod.Browser
	page          *rod.Page
	actionTimeout time.Duration
	log           *logger.Logger
}

var _ Surface = (*Rod)(nil)

// Launch starts a browser and opens a blank page
func Launch(ctx context.Context, opts Options) (*Rod, error) {
	log := logger.ForSession()

	bin := opts.Bin
	if bin == "" {
		if path, ok := launcher.LookPath(); ok {
			bin = path
		}
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if bin != "" {
		l = l.Bin(bin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	browser, err := start(l, dial)
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			browser.Close()
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	log.Info().
		Str("bin", bin).
		Bool("headless", opts.Headless).
		Msg("Browser session started")

	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}

	return &Rod{browser: browser, page: page, actionTimeout: actionTimeout, log: log}, nil
}

// start runs the browser process and connects to it. The process is killed
// when the connection cannot be made.
func start(l *launcher.Launcher, connect func(controlURL string) (*rod.Browser, error)) (*rod.Browser, error) {
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser, err := connect(u)
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, nil
}

func dial(controlURL string) (*rod.Browser, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}

func (r *Rod) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return r.classify(ctx, "navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return r.classify(ctx, "navigate", err)
	}
	return nil
}

// Select fails right away when nothing matches selector.
func (r *Rod) Select(ctx context.Context, selector, value string) error {
	actx, cancel := context.WithTimeout(ctx, r.actionTimeout)
	defer cancel()

	els, err := r.page.Context(actx).Elements(selector)
	if err != nil {
		return r.bounded(ctx, actx, "select", err)
	}
	if els.Empty() {
		return apperrors.NewValidation("select", "no element matches "+selector)
	}

	option := "[value=" + strconv.Quote(value) + "]"
	if err := els.First().Select([]string{option}, true, rod.SelectorTypeCSSSector); err != nil {
		return r.bounded(ctx, actx, "select", err)
	}
	return nil
}

func (r *Rod) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := r.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, r.classify(ctx, "query", err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{owner: r, el: el})
	}
	return out, nil
}

func (r *Rod) Content(ctx context.Context) (string, error) {
	html, err := r.page.Context(ctx).HTML()
	if err != nil {
		return "", r.classify(ctx, "content", err)
	}
	return html, nil
}

func (r *Rod) NextFrame(ctx context.Context) error {
	if err := r.page.Context(ctx).WaitRepaint(); err != nil {
		return r.classify(ctx, "frame", err)
	}
	return nil
}

func (r *Rod) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := r.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, r.classify(ctx, "screenshot", err)
	}
	return data, nil
}

// Close cleans up browser resources
func (r *Rod) Close() error {
	if r.page != nil {
		r.page.Close()
	}
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			return err
		}
	}
	r.log.Info().Msg("Browser session closed")
	return nil
}

// alive checks that the page still answers script evaluation
func (r *Rod) alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthCheckTimeout)
	defer cancel()
	_, err := r.page.Context(ctx).Eval(`() => true`)
	return err == nil
}

// classify turns a failed call into SessionLost when the page no longer responds.
// Context errors are passed through so callers can tell timeouts from lost sessions.
func (r *Rod) classify(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !r.alive(ctx) {
		return apperrors.NewSessionLost(step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// bounded classifies the error of a call made under the action timeout actx.
// Running out of the action timeout is a SyncTimeout; the parent ctx error
// passes through untouched.
func (r *Rod) bounded(ctx, actx context.Context, step string, err error) error {
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return apperrors.NewSyncTimeout(step, r.actionTimeout)
	}
	return r.classify(ctx, step, err)
}

type rodElement struct {
	owner *Rod
	el    *rod.Element
}

func (e *rodElement) Attached(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.isConnected`)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// The remote object is gone with its execution context: the node
		// cannot be part of the current document anymore.
		if e.owner.alive(ctx) {
			return false, nil
		}
		return false, apperrors.NewSessionLost("attached", err)
	}
	return res.Value.Bool(), nil
}

func (e *rodElement) Click(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, e.owner.actionTimeout)
	defer cancel()

	if err := e.el.Context(actx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return e.owner.bounded(ctx, actx, "click", err)
	}
	return nil
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	html, err := e.el.Context(ctx).HTML()
	if err != nil {
		return "", e.owner.classify(ctx, "html", err)
	}
	return html, nil
}
