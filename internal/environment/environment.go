package environment

import (
	"context"
	"log/slog"
	"time"

	"goose/internal/log"

	"github.com/google/uuid"
	"github.com/ysmood/gson"
)

// Options is the configuration bag handed to a driver at construction. The
// environment keeps it for its lifetime and returns it unchanged.
type Options struct {
	URL       string
	Timeout   time.Duration
	Headless  bool
	ProxyURL  string
	UserAgent string
	Headers   map[string]string
	Extra     map[string]string // driver-specific keys
}

// Dispatcher is the subscription side of an environment.
type Dispatcher interface {
	AddCallback(typ EventType, cb Callback) Handle
	RemoveCallback(typ EventType, h Handle)
}

// Environment is the contract a browser-like execution context implements
// so the extraction pipeline can drive it without knowing the engine.
type Environment interface {
	Dispatcher

	Options() Options

	Prepare(ctx context.Context) error
	TearDown(ctx context.Context) error

	// EvaluateJs runs js, a function expression, with args and returns its result.
	EvaluateJs(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// Snapshot returns a PNG of the current page. Optional capability.
	Snapshot(ctx context.Context) ([]byte, error)

	Goto(ctx context.Context, url string) error
	WaitForPage(ctx context.Context, timeout time.Duration) error
	WaitForQuery(ctx context.Context, uri URLMatcher, timeout time.Duration) (Args, error)
	Back(ctx context.Context) error

	MouseDown(ctx context.Context, selector string) error
	MouseUp(ctx context.Context, selector string) error
	MouseClick(ctx context.Context, selector string) error
	MouseMove(ctx context.Context, selector string) error

	// InjectFiles evaluates the given script files inside the page, in order.
	InjectFiles(ctx context.Context, paths []string) error

	EvaluateCallbacks(typ EventType, url string, args Args)
	AddErrback(fn Errback) ErrbackHandle
	RemoveErrback(h ErrbackHandle)
}

// Base provides the defaults every driver embeds: option storage, the
// callback and errback registries, trivial Prepare/TearDown, and
// ErrNotImplemented for everything engine-specific.
type Base struct {
	driver    string
	id        string
	opts      Options
	callbacks *CallbackRegistry
	errbacks  ErrbackRegistry
	logger    *slog.Logger
}

var _ Environment = (*Base)(nil)

// NewBase stores opts and initializes empty registries.
func NewBase(driver string, opts Options) *Base {
	id := uuid.NewString()
	b := &Base{
		driver:    driver,
		id:        id,
		opts:      opts,
		callbacks: NewCallbackRegistry(),
		logger:    log.WithEnv(driver, id),
	}
	b.logger.Debug("initializing")
	return b
}

// Driver returns the driver name the environment was built with.
func (b *Base) Driver() string { return b.driver }

// ID returns the instance id used in log lines.
func (b *Base) ID() string { return b.id }

// Logger returns the instance logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Callbacks exposes the registry to drivers that serialize access to it.
func (b *Base) Callbacks() *CallbackRegistry { return b.callbacks }

// Errbacks exposes the errback list to drivers.
func (b *Base) Errbacks() *ErrbackRegistry { return &b.errbacks }

func (b *Base) Options() Options { return b.opts }

func (b *Base) Prepare(ctx context.Context) error {
	b.logger.Debug("preparing")
	return nil
}

func (b *Base) TearDown(ctx context.Context) error {
	b.logger.Debug("tear down")
	return nil
}

func (b *Base) EvaluateJs(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	return gson.New(nil), notImplemented("evaluateJs")
}

func (b *Base) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (b *Base) Goto(ctx context.Context, url string) error {
	return notImplemented("goto")
}

func (b *Base) WaitForPage(ctx context.Context, timeout time.Duration) error {
	return notImplemented("waitForPage")
}

func (b *Base) WaitForQuery(ctx context.Context, uri URLMatcher, timeout time.Duration) (Args, error) {
	return nil, notImplemented("waitForQuery")
}

func (b *Base) Back(ctx context.Context) error {
	return notImplemented("back")
}

func (b *Base) MouseDown(ctx context.Context, selector string) error {
	return notImplemented("mouseDown")
}

func (b *Base) MouseUp(ctx context.Context, selector string) error {
	return notImplemented("mouseUp")
}

func (b *Base) MouseClick(ctx context.Context, selector string) error {
	return notImplemented("mouseClick")
}

func (b *Base) MouseMove(ctx context.Context, selector string) error {
	return notImplemented("mouseMove")
}

func (b *Base) InjectFiles(ctx context.Context, paths []string) error {
	return notImplemented("injectFiles")
}

// VendorFilePaths returns the auxiliary scripts drivers inject, in order.
func (b *Base) VendorFilePaths() ([]string, error) {
	return VendorFilePaths()
}

func (b *Base) AddCallback(typ EventType, cb Callback) Handle {
	return b.callbacks.Add(typ, cb)
}

func (b *Base) RemoveCallback(typ EventType, h Handle) {
	b.callbacks.Remove(typ, h)
}

func (b *Base) EvaluateCallbacks(typ EventType, url string, args Args) {
	b.callbacks.Evaluate(typ, url, args)
}

func (b *Base) AddErrback(fn Errback) ErrbackHandle {
	return b.errbacks.Add(fn)
}

func (b *Base) RemoveErrback(h ErrbackHandle) {
	b.errbacks.Remove(h)
}
