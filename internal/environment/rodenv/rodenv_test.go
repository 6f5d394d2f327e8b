package rodenv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"goose/internal/environment"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	env, err := environment.New("CHROME", environment.Options{URL: "https://example.com"})
	require.NoError(t, err)
	_, ok := env.(*Environment)
	assert.True(t, ok)
}

func TestOperationsBeforePrepare(t *testing.T) {
	env := New(environment.Options{})
	ctx := context.Background()

	_, err := env.EvaluateJs(ctx, "() => 1")
	assert.ErrorIs(t, err, ErrNotPrepared)
	assert.ErrorIs(t, env.Goto(ctx, "https://example.com"), ErrNotPrepared)
	assert.ErrorIs(t, env.WaitForPage(ctx, time.Second), ErrNotPrepared)
	_, err = env.WaitForQuery(ctx, nil, time.Second)
	assert.ErrorIs(t, err, ErrNotPrepared)
	assert.ErrorIs(t, env.Back(ctx), ErrNotPrepared)
	assert.ErrorIs(t, env.MouseClick(ctx, "a"), ErrNotPrepared)
	assert.ErrorIs(t, env.InjectFiles(ctx, []string{"x.js"}), ErrNotPrepared)
	_, err = env.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestTearDownWithoutPrepare(t *testing.T) {
	env := New(environment.Options{})
	assert.NoError(t, env.TearDown(context.Background()))
	assert.NoError(t, env.TearDown(context.Background()))
}

func TestPrepareWithCancelledContext(t *testing.T) {
	env := New(environment.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.Prepare(ctx)
	var setupErr *environment.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, Name, setupErr.Driver)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, env.TearDown(context.Background()))
}

func TestNavigationEventsOnlyForTopFrame(t *testing.T) {
	env := New(environment.Options{})
	var urls []string
	for i := 0; i < 2; i++ {
		env.AddCallback(environment.EventNavigation, environment.Callback{Fn: func(a environment.Args) {
			urls = append(urls, a["url"].(string))
		}})
	}

	env.onFrameNavigated(&proto.PageFrameNavigated{Frame: &proto.PageFrame{URL: "https://ads.test/", ParentID: "main"}})
	env.onFrameNavigated(&proto.PageFrameNavigated{})
	assert.Empty(t, urls)

	env.onFrameNavigated(&proto.PageFrameNavigated{Frame: &proto.PageFrame{URL: "https://example.com/"}})
	assert.Equal(t, []string{"https://example.com/", "https://example.com/"}, urls)
}

func TestRequestEventsFilterByPattern(t *testing.T) {
	env := New(environment.Options{})
	var got environment.Args
	env.AddCallback(environment.EventRequest, environment.Callback{
		URLPattern: environment.Substring("/api/"),
		Fn:         func(a environment.Args) { got = a },
	})

	env.onRequest(&proto.NetworkRequestWillBeSent{Request: &proto.NetworkRequest{URL: "https://example.com/app.js", Method: "GET"}})
	assert.Nil(t, got)

	env.onRequest(&proto.NetworkRequestWillBeSent{
		Request: &proto.NetworkRequest{URL: "https://example.com/api/items", Method: "POST"},
		Type:    proto.NetworkResourceTypeXHR,
	})
	require.NotNil(t, got)
	assert.Equal(t, "POST", got["method"])
	assert.Equal(t, "XHR", got["type"])
	assert.Equal(t, 0, env.Callbacks().Len(environment.EventRequest))
}

func TestExceptionsReachCallbacksAndErrbacks(t *testing.T) {
	env := New(environment.Options{})
	var errs []error
	var args environment.Args
	env.AddErrback(func(err error) { errs = append(errs, err) })
	env.AddCallback(environment.EventError, environment.Callback{Fn: func(a environment.Args) { args = a }})

	env.onException(&proto.RuntimeExceptionThrown{ExceptionDetails: &proto.RuntimeExceptionDetails{
		Text:       "Uncaught",
		URL:        "https://example.com/app.js",
		LineNumber: 3,
		Exception:  &proto.RuntimeRemoteObject{Description: "ReferenceError: x is not defined"},
	}})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "ReferenceError: x is not defined")
	assert.Equal(t, "ReferenceError: x is not defined", args["message"])
	assert.Equal(t, 3, args["line"])
}

func TestWaitForQueryTimesOutWithoutRequests(t *testing.T) {
	env := New(environment.Options{})
	w := environment.Await(env, environment.EventRequest, environment.Substring("/never"))
	_, err := w.Wait(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, environment.ErrTimeout)
	assert.Equal(t, 0, env.Callbacks().Len(environment.EventRequest))
}

// Browser-backed tests launch Chromium and only run with GOOSE_BROWSER_TESTS=1.
func requireBrowser(t *testing.T) {
	t.Helper()
	if os.Getenv("GOOSE_BROWSER_TESTS") != "1" {
		t.Skip("set GOOSE_BROWSER_TESTS=1 to run browser tests")
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<a id="next" href="/next">next</a>
<script>setTimeout(() => fetch('/api/items'), 50)</script>
</body></html>`)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Next</title></head><body><p class="x">second</p></body></html>`)
	})
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBrowserSession(t *testing.T) {
	requireBrowser(t)
	srv := newSite(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	env := New(environment.Options{Headless: true, Timeout: 10 * time.Second})
	require.NoError(t, env.Prepare(ctx))
	defer func() { assert.NoError(t, env.TearDown(context.Background())) }()

	query := environment.Await(env, environment.EventRequest, environment.Substring("/api/items"))
	require.NoError(t, env.Goto(ctx, srv.URL+"/"))
	require.NoError(t, env.WaitForPage(ctx, 10*time.Second))
	_, err := query.Wait(ctx, 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, environment.InjectVendors(ctx, env))
	title, err := env.EvaluateJs(ctx, `() => document.title`)
	require.NoError(t, err)
	assert.Equal(t, "Home", title.Str())

	found, err := env.EvaluateJs(ctx, `(s) => window.__goose.select(s) !== null`, "#next")
	require.NoError(t, err)
	assert.True(t, found.Bool())

	require.NoError(t, env.MouseClick(ctx, "#next"))
	require.NoError(t, env.WaitForPage(ctx, 10*time.Second))
	title, err = env.EvaluateJs(ctx, `() => document.title`)
	require.NoError(t, err)
	assert.Equal(t, "Next", title.Str())

	png, err := env.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	require.NoError(t, env.Back(ctx))
	require.NoError(t, env.WaitForPage(ctx, 10*time.Second))

	err = env.WaitForPage(ctx, 200*time.Millisecond)
	assert.True(t, errors.Is(err, environment.ErrTimeout), "got %v", err)
}
