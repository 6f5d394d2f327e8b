package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"goose/internal/environment"
	"goose/internal/extractor"
	"goose/internal/log"
)

// elementPollInterval is how often the element wait strategy re-checks the page.
const elementPollInterval = 100 * time.Millisecond

// GenericScraper loads a URL in an environment and extracts its content.
type GenericScraper struct {
	env    environment.Environment
	logger *slog.Logger
}

// NewGenericScraper creates a scraper that drives env. The scraper owns the
// environment's lifecycle for the duration of Scrape.
func NewGenericScraper(env environment.Environment) *GenericScraper {
	return &GenericScraper{env: env, logger: log.WithComponent("scraper")}
}

// Name returns scraper name
func (g *GenericScraper) Name() string {
	return "generic"
}

// Scrape prepares the environment, loads target, waits according to
// opts.WaitFor and extracts everything the formatters need before tearing
// the environment down.
func (g *GenericScraper) Scrape(ctx context.Context, target string, opts Options) (content Content, err error) {
	startTime := time.Now()

	if err := g.env.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare environment: %w", err)
	}
	defer func() {
		if tdErr := g.env.TearDown(context.WithoutCancel(ctx)); tdErr != nil {
			g.logger.Warn("tear down failed", "error", tdErr)
			if err == nil {
				err = fmt.Errorf("failed to tear down environment: %w", tdErr)
				content = nil
			}
		}
	}()

	var pageErrors errorLog
	h := g.env.AddErrback(pageErrors.add)
	defer g.env.RemoveErrback(h)

	if err := environment.InjectVendors(ctx, g.env); err != nil {
		if !errors.Is(err, environment.ErrNotImplemented) {
			return nil, fmt.Errorf("failed to inject vendors: %w", err)
		}
		g.logger.Debug("environment does not inject vendor scripts")
	}

	// The document request itself goes out during Goto.
	var query *environment.Waiter
	if WaitStrategy(opts.WaitFor) == WaitQuery {
		if opts.WaitTarget == "" {
			return nil, fmt.Errorf("wait target is required for query strategy")
		}
		query = environment.Await(g.env, environment.EventRequest, environment.Substring(opts.WaitTarget))
		defer query.Cancel()
	}

	if err := g.env.Goto(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	if err := g.wait(ctx, query, opts); err != nil {
		return nil, fmt.Errorf("wait strategy failed: %w", err)
	}

	ex := extractor.NewExtractor(g.env)

	title, err := ex.Title(ctx)
	if err != nil {
		return nil, err
	}
	finalURL, err := ex.URL(ctx)
	if err != nil || finalURL == "" {
		finalURL = target
	}

	var htmlContent, mainContent, textContent string
	if opts.Level == string(extractor.LevelBody) {
		// ToHTML() needs body innerHTML; ToText() needs body innerText
		htmlContent, err = ex.Extract(ctx, string(extractor.LevelHTML), "")
		if err != nil {
			return nil, fmt.Errorf("failed to extract HTML content: %w", err)
		}
		textContent, err = ex.Extract(ctx, string(extractor.LevelBody), "")
		if err != nil {
			return nil, fmt.Errorf("failed to extract text content: %w", err)
		}
		mainContent = htmlContent
	} else {
		mainContent, err = ex.Extract(ctx, opts.Level, opts.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to extract content: %w", err)
		}
		htmlContent = mainContent
		textContent = mainContent
	}

	page := NewPageContent(htmlContent, mainContent, textContent, opts.Level, title, finalURL, time.Since(startTime))

	if opts.Snapshot {
		png, err := g.env.Snapshot(ctx)
		switch {
		case errors.Is(err, environment.ErrUnsupported):
			g.logger.Warn("environment does not support snapshots")
		case err != nil:
			return nil, fmt.Errorf("failed to take snapshot: %w", err)
		default:
			page.WithSnapshot(png)
		}
	}

	errs := pageErrors.list()
	if len(errs) > 0 {
		g.logger.Info("page raised errors", "count", len(errs))
	}
	return page.WithPageErrors(errs), nil
}

// errorLog collects errback messages. Drivers fire errbacks from their own
// event goroutines, possibly after the errback was removed.
type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, err.Error())
}

func (l *errorLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func (g *GenericScraper) wait(ctx context.Context, query *environment.Waiter, opts Options) error {
	switch WaitStrategy(opts.WaitFor) {
	case WaitElement:
		if opts.WaitTarget == "" {
			return fmt.Errorf("wait target is required for element strategy")
		}
		if err := g.env.WaitForPage(ctx, opts.Timeout); err != nil {
			return err
		}
		return g.waitElement(ctx, opts.WaitTarget, opts.Timeout)

	case WaitTime:
		if opts.WaitTarget == "" {
			return fmt.Errorf("wait target is required for time strategy")
		}
		ms, err := strconv.Atoi(opts.WaitTarget)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid wait time '%s'", opts.WaitTarget)
		}
		if err := g.env.WaitForPage(ctx, opts.Timeout); err != nil {
			return err
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case WaitQuery:
		if err := g.env.WaitForPage(ctx, opts.Timeout); err != nil {
			return err
		}
		_, err := query.Wait(ctx, opts.Timeout)
		return err

	default:
		return g.env.WaitForPage(ctx, opts.Timeout)
	}
}

func (g *GenericScraper) waitElement(ctx context.Context, selector string, timeout time.Duration) error {
	ex := extractor.NewExtractor(g.env)
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(elementPollInterval)
	defer ticker.Stop()

	for {
		ok, err := ex.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("%w: element '%s' after %s", environment.ErrTimeout, selector, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
