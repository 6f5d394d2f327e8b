package scraper

import (
	"context"
	"time"
)

type Scraper interface {
	Name() string
	Scrape(ctx context.Context, target string, opts Options) (Content, error)
}

type Content interface {
	ToHTML() (string, error)
	ToText() (string, error)
	ToMarkdown() (string, error)
	ToJSON() ([]byte, error)
	ToCSV() (string, error)
}

// WaitStrategy wait strategy type
type WaitStrategy string

const (
	WaitLoad    WaitStrategy = "load"    // Wait for the navigation and page load
	WaitElement WaitStrategy = "element" // Wait for a selector to match
	WaitTime    WaitStrategy = "time"    // Wait for a fixed number of milliseconds
	WaitQuery   WaitStrategy = "query"   // Wait for a request whose URL contains the target
)

// ValidWaitStrategy reports whether s is known.
func ValidWaitStrategy(s string) bool {
	switch WaitStrategy(s) {
	case WaitLoad, WaitElement, WaitTime, WaitQuery:
		return true
	}
	return false
}

type Options struct {
	WaitFor    string
	WaitTarget string
	Timeout    time.Duration
	Level      string // full/html/body/content/xpath/css
	Selector   string
	Snapshot   bool // capture a PNG when the environment supports it
}
