// Package rodenv drives a real Chromium instance through go-rod.
package rodenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"goose/internal/browser"
	"goose/internal/environment"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// Name is the driver name the environment registers under.
const Name = "chrome"

// ErrNotPrepared is returned by page operations before Prepare succeeds.
var ErrNotPrepared = errors.New("chrome environment is not prepared")

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

func init() {
	environment.Register(Name, func(opts environment.Options) (environment.Environment, error) {
		return New(opts), nil
	})
}

// Environment implements environment.Environment on top of a rod page.
// Recognized Options.Extra keys: "bin" (browser binary path).
type Environment struct {
	*environment.Base

	// mu guards the registries and pendingNav; events arrive on rod's goroutine.
	mu         sync.Mutex
	pendingNav *environment.Waiter

	browser    *browser.Browser
	page       *rod.Page
	cancel     context.CancelFunc
	cleanups   []func() error
	eventsDone chan struct{}
}

var _ environment.Environment = (*Environment)(nil)

// New returns an unprepared chrome environment.
func New(opts environment.Options) *Environment {
	return &Environment{Base: environment.NewBase(Name, opts)}
}

func (e *Environment) Prepare(ctx context.Context) error {
	if err := e.Base.Prepare(ctx); err != nil {
		return err
	}
	if e.page != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return environment.NewSetupError(Name, err)
	}

	opts := e.Options()
	lifetime, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	b, err := browser.New(lifetime, browser.Config{
		ProxyURL: opts.ProxyURL,
		Headless: opts.Headless,
		Bin:      opts.Extra["bin"],
	})
	if err != nil {
		e.release()
		return environment.NewSetupError(Name, err)
	}
	e.browser = b

	page, err := b.NewPage()
	if err != nil {
		e.release()
		return environment.NewSetupError(Name, fmt.Errorf("failed to create page: %w", err))
	}
	e.page = page

	if err := e.configurePage(opts); err != nil {
		e.release()
		return environment.NewSetupError(Name, err)
	}

	e.listen(lifetime)
	e.Logger().Info("browser ready", "headless", opts.Headless, "proxy", opts.ProxyURL != "")
	return nil
}

func (e *Environment) configurePage(opts environment.Options) error {
	if opts.UserAgent != "" {
		if err := e.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	if len(opts.Headers) > 0 {
		headerList := make([]string, 0, len(opts.Headers)*2)
		for k, v := range opts.Headers {
			headerList = append(headerList, k, v)
		}
		cleanup, err := e.page.SetExtraHeaders(headerList)
		if err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
		e.cleanups = append(e.cleanups, func() error {
			cleanup()
			return nil
		})
	}

	remove, err := e.page.EvalOnNewDocument(hideWebdriver)
	if err != nil {
		return fmt.Errorf("failed to install init script: %w", err)
	}
	e.cleanups = append(e.cleanups, remove)
	return nil
}

func (e *Environment) listen(ctx context.Context) {
	wait := e.page.Context(ctx).EachEvent(
		e.onFrameNavigated,
		e.onRequest,
		e.onException,
	)
	done := make(chan struct{})
	e.eventsDone = done
	go func() {
		defer close(done)
		wait()
	}()
}

func (e *Environment) onFrameNavigated(ev *proto.PageFrameNavigated) {
	if ev.Frame == nil || ev.Frame.ParentID != "" {
		return
	}
	e.Logger().Debug("navigation", "url", ev.Frame.URL)
	e.EvaluateCallbacks(environment.EventNavigation, ev.Frame.URL, environment.Args{"url": ev.Frame.URL})
}

func (e *Environment) onRequest(ev *proto.NetworkRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	e.EvaluateCallbacks(environment.EventRequest, ev.Request.URL, environment.Args{
		"url":    ev.Request.URL,
		"method": ev.Request.Method,
		"type":   string(ev.Type),
	})
}

func (e *Environment) onException(ev *proto.RuntimeExceptionThrown) {
	if ev.ExceptionDetails == nil {
		return
	}
	details := ev.ExceptionDetails
	msg := details.Text
	if details.Exception != nil && details.Exception.Description != "" {
		msg = details.Exception.Description
	}
	e.Logger().Warn("page error", "url", details.URL, "message", msg)

	e.EvaluateCallbacks(environment.EventError, details.URL, environment.Args{
		"url":     details.URL,
		"message": msg,
		"line":    details.LineNumber,
		"column":  details.ColumnNumber,
	})

	e.mu.Lock()
	fns := e.Errbacks().Snapshot()
	e.mu.Unlock()
	err := fmt.Errorf("page error at %s: %s", details.URL, msg)
	for _, fn := range fns {
		fn(err)
	}
}

// TearDown closes the page and browser. It is safe to call repeatedly and
// before Prepare.
func (e *Environment) TearDown(ctx context.Context) error {
	err := e.release()
	if w := e.swapPendingNav(nil); w != nil {
		w.Cancel()
	}
	if baseErr := e.Base.TearDown(ctx); baseErr != nil {
		err = errors.Join(err, baseErr)
	}
	return err
}

func (e *Environment) release() error {
	var errs []error
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		if err := e.cleanups[i](); err != nil {
			e.Logger().Debug("cleanup failed", "error", err)
		}
	}
	e.cleanups = nil

	if e.page != nil {
		if err := e.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
		e.page = nil
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		e.browser = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.eventsDone != nil {
		<-e.eventsDone
		e.eventsDone = nil
	}
	return errors.Join(errs...)
}

func (e *Environment) activePage(ctx context.Context) (*rod.Page, error) {
	if e.page == nil {
		return nil, ErrNotPrepared
	}
	return e.page.Context(ctx), nil
}

// withTimeout applies Options.Timeout to ctx when ctx carries no deadline.
func (e *Environment) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.Options().Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Options().Timeout)
}

func (e *Environment) EvaluateJs(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	page, err := e.activePage(ctx)
	if err != nil {
		return gson.New(nil), err
	}
	res, err := page.Eval(js, args...)
	if err != nil {
		return gson.New(nil), fmt.Errorf("failed to evaluate script: %w", err)
	}
	return res.Value, nil
}

func (e *Environment) Snapshot(ctx context.Context) ([]byte, error) {
	page, err := e.activePage(ctx)
	if err != nil {
		return nil, err
	}
	img, err := page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return img, nil
}

func (e *Environment) Goto(ctx context.Context, url string) error {
	page, err := e.activePage(ctx)
	if err != nil {
		return err
	}
	w := e.armNavigation()
	if err := page.Navigate(url); err != nil {
		e.swapPendingNav(nil)
		w.Cancel()
		return fmt.Errorf("failed to navigate: %w", err)
	}
	return nil
}

func (e *Environment) WaitForPage(ctx context.Context, timeout time.Duration) error {
	if e.page == nil {
		return ErrNotPrepared
	}
	start := time.Now()
	w := e.swapPendingNav(nil)
	if w == nil {
		w = environment.Await(e, environment.EventNavigation, nil)
	}
	if _, err := w.Wait(ctx, timeout); err != nil {
		return err
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if timeout > 0 {
		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return fmt.Errorf("%w: page load after %s", environment.ErrTimeout, timeout)
		}
		var cancelLoad context.CancelFunc
		loadCtx, cancelLoad = context.WithTimeout(loadCtx, remaining)
		defer cancelLoad()
	}

	if err := e.page.Context(loadCtx).WaitLoad(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: page load after %s", environment.ErrTimeout, timeout)
		}
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (e *Environment) WaitForQuery(ctx context.Context, uri environment.URLMatcher, timeout time.Duration) (environment.Args, error) {
	if e.page == nil {
		return nil, ErrNotPrepared
	}
	return environment.Await(e, environment.EventRequest, uri).Wait(ctx, timeout)
}

func (e *Environment) Back(ctx context.Context) error {
	page, err := e.activePage(ctx)
	if err != nil {
		return err
	}
	w := e.armNavigation()
	if err := page.NavigateBack(); err != nil {
		e.swapPendingNav(nil)
		w.Cancel()
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return nil
}

// armNavigation subscribes to the next navigation before the action that
// triggers it, replacing any earlier unconsumed subscription.
func (e *Environment) armNavigation() *environment.Waiter {
	w := environment.Await(e, environment.EventNavigation, nil)
	if prev := e.swapPendingNav(w); prev != nil {
		prev.Cancel()
	}
	return w
}

func (e *Environment) swapPendingNav(w *environment.Waiter) *environment.Waiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.pendingNav
	e.pendingNav = w
	return prev
}

func (e *Environment) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	opCtx, cancel := e.withTimeout(ctx)
	page, err := e.activePage(opCtx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to find element '%s': %w", selector, err)
	}
	return el, cancel, nil
}

func (e *Environment) MouseMove(ctx context.Context, selector string) error {
	el, cancel, err := e.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Hover(); err != nil {
		return fmt.Errorf("failed to move mouse to '%s': %w", selector, err)
	}
	return nil
}

func (e *Environment) MouseDown(ctx context.Context, selector string) error {
	el, cancel, err := e.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Hover(); err != nil {
		return fmt.Errorf("failed to move mouse to '%s': %w", selector, err)
	}
	if err := e.page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to press mouse on '%s': %w", selector, err)
	}
	return nil
}

func (e *Environment) MouseUp(ctx context.Context, selector string) error {
	el, cancel, err := e.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Hover(); err != nil {
		return fmt.Errorf("failed to move mouse to '%s': %w", selector, err)
	}
	if err := e.page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to release mouse on '%s': %w", selector, err)
	}
	return nil
}

// MouseClick clicks the first element matching selector. A navigation the
// click causes is picked up by the next WaitForPage.
func (e *Environment) MouseClick(ctx context.Context, selector string) error {
	el, cancel, err := e.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	w := e.armNavigation()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		e.swapPendingNav(nil)
		w.Cancel()
		return fmt.Errorf("failed to click '%s': %w", selector, err)
	}
	return nil
}

// InjectFiles evaluates each script in the current document and registers it
// for every document loaded afterwards.
func (e *Environment) InjectFiles(ctx context.Context, paths []string) error {
	page, err := e.activePage(ctx)
	if err != nil {
		return err
	}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		remove, err := page.EvalOnNewDocument(string(src))
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", path, err)
		}
		e.cleanups = append(e.cleanups, remove)
		if _, err := page.Eval("() => {\n" + string(src) + "\n}"); err != nil {
			return fmt.Errorf("failed to inject %s: %w", path, err)
		}
	}
	return nil
}

func (e *Environment) AddCallback(typ environment.EventType, cb environment.Callback) environment.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Callbacks().Add(typ, cb)
}

func (e *Environment) RemoveCallback(typ environment.EventType, h environment.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Callbacks().Remove(typ, h)
}

// EvaluateCallbacks pops matches under the lock and runs them outside it.
func (e *Environment) EvaluateCallbacks(typ environment.EventType, url string, args environment.Args) {
	for {
		e.mu.Lock()
		cb, ok := e.Callbacks().Pop(typ, url)
		e.mu.Unlock()
		if !ok {
			return
		}
		if cb.Fn != nil {
			cb.Fn(args)
		}
	}
}

func (e *Environment) AddErrback(fn environment.Errback) environment.ErrbackHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Errbacks().Add(fn)
}

func (e *Environment) RemoveErrback(h environment.ErrbackHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Errbacks().Remove(h)
}
