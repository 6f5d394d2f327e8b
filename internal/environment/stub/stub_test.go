package stub

import (
	"context"
	"errors"
	"testing"
	"time"

	"goose/internal/environment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	home  = "https://example.com/"
	about = "https://example.com/about"
)

func newEnv(t *testing.T) *Environment {
	t.Helper()
	env := New(environment.Options{URL: home})
	env.Pages[home] = "<html><body><a id=about>About</a></body></html>"
	env.Pages[about] = "<html><body>About us</body></html>"
	env.Links["#about"] = about
	require.NoError(t, env.Prepare(context.Background()))
	t.Cleanup(func() { _ = env.TearDown(context.Background()) })
	return env
}

func TestRegistered(t *testing.T) {
	env, err := environment.New("stub", environment.Options{URL: home})
	require.NoError(t, err)
	assert.Equal(t, home, env.Options().URL)
}

func TestLifecycle(t *testing.T) {
	env := New(environment.Options{})
	ctx := context.Background()

	require.NoError(t, env.TearDown(ctx))
	require.NoError(t, env.Prepare(ctx))
	assert.True(t, env.Prepared())
	require.NoError(t, env.TearDown(ctx))
	require.NoError(t, env.TearDown(ctx))
	assert.False(t, env.Prepared())
	assert.Equal(t, 3, env.TearDowns())
}

func TestGotoFiresNavigationAndWaitForPage(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	var seen []string
	env.AddCallback(environment.EventNavigation, environment.Callback{
		URLPattern: environment.Substring("example.com"),
		Fn:         func(a environment.Args) { seen = append(seen, a["url"].(string)) },
	})

	require.NoError(t, env.Goto(ctx, home))
	require.NoError(t, env.WaitForPage(ctx, time.Second))

	assert.Equal(t, []string{home}, seen)
	assert.Equal(t, home, env.URL())
	assert.Contains(t, env.HTML(), "About")
}

func TestGotoUnknownPage(t *testing.T) {
	env := newEnv(t)
	err := env.Goto(context.Background(), "https://missing.test/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no page")
}

func TestWaitForPageTimesOut(t *testing.T) {
	env := newEnv(t)
	err := env.WaitForPage(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, environment.ErrTimeout)
	assert.Equal(t, 0, env.Callbacks().Len(environment.EventNavigation))
}

func TestMouseClickFollowsLinkAndBack(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	require.NoError(t, env.Goto(ctx, home))
	require.NoError(t, env.WaitForPage(ctx, time.Second))

	require.NoError(t, env.MouseMove(ctx, "#about"))
	require.NoError(t, env.MouseDown(ctx, "#about"))
	require.NoError(t, env.MouseUp(ctx, "#about"))
	require.NoError(t, env.MouseClick(ctx, "#about"))
	require.NoError(t, env.WaitForPage(ctx, time.Second))
	assert.Equal(t, about, env.URL())

	assert.Equal(t, []MouseEvent{
		{Op: "move", Selector: "#about"},
		{Op: "down", Selector: "#about"},
		{Op: "up", Selector: "#about"},
		{Op: "click", Selector: "#about"},
	}, env.MouseEvents())

	require.NoError(t, env.Back(ctx))
	require.NoError(t, env.WaitForPage(ctx, time.Second))
	assert.Equal(t, home, env.URL())

	assert.Error(t, env.Back(ctx))
}

func TestWaitForQuery(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.Queue(environment.EventRequest, "https://example.com/logo.png", environment.Args{"method": "GET"})
	env.Queue(environment.EventRequest, "https://example.com/api/items", environment.Args{"method": "POST"})

	args, err := env.WaitForQuery(ctx, environment.Substring("/api/"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "POST", args["method"])

	_, err = env.WaitForQuery(ctx, environment.Substring("/api/"), 10*time.Millisecond)
	assert.ErrorIs(t, err, environment.ErrTimeout)
}

func TestEvaluateJs(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.Scripts["() => document.title"] = "Example"

	v, err := env.EvaluateJs(ctx, "() => document.title")
	require.NoError(t, err)
	assert.Equal(t, "Example", v.Str())

	_, err = env.EvaluateJs(ctx, "() => 42")
	require.ErrorIs(t, err, environment.ErrNotImplemented)

	env.Evaluator = func(js string, args []any) (any, error) {
		if len(args) == 1 {
			return args[0], nil
		}
		return nil, errors.New("bad script")
	}
	v, err = env.EvaluateJs(ctx, "(x) => x", "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", v.Str())

	_, err = env.EvaluateJs(ctx, "() => oops")
	assert.EqualError(t, err, "bad script")
}

func TestSnapshotUnsupported(t *testing.T) {
	_, err := newEnv(t).Snapshot(context.Background())
	assert.ErrorIs(t, err, environment.ErrUnsupported)
}

func TestInjectVendors(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, environment.InjectVendors(context.Background(), env))

	want, err := environment.VendorFilePaths()
	require.NoError(t, err)
	assert.Equal(t, want, env.Injected())
}

func TestErrorEventsReachCallbacksAndErrbacks(t *testing.T) {
	env := newEnv(t)
	var errs []error
	var callbackArgs environment.Args
	h := env.AddErrback(func(err error) { errs = append(errs, err) })
	env.AddCallback(environment.EventError, environment.Callback{Fn: func(a environment.Args) { callbackArgs = a }})

	env.Queue(environment.EventError, home, environment.Args{"message": "x is undefined"})
	env.Flush()

	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], home+": x is undefined")
	assert.Equal(t, "x is undefined", callbackArgs["message"])

	env.RemoveErrback(h)
	env.Queue(environment.EventError, home, nil)
	env.Flush()
	assert.Len(t, errs, 1)
}

func TestCallbackCanRegisterDuringDispatch(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fired := 0
	env.AddCallback(environment.EventNavigation, environment.Callback{Fn: func(environment.Args) {
		fired++
		env.AddCallback(environment.EventNavigation, environment.Callback{Fn: func(environment.Args) { fired++ }})
	}})

	require.NoError(t, env.Goto(ctx, home))
	assert.Equal(t, 2, fired)
}

func TestWaitForPageHoldsRequestEvents(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	var errs int
	env.AddErrback(func(error) { errs++ })
	env.Queue(environment.EventRequest, "https://example.com/api/items", nil)
	env.Queue(environment.EventError, home, environment.Args{"message": "boom"})

	require.NoError(t, env.Goto(ctx, home))
	require.NoError(t, env.WaitForPage(ctx, time.Second))
	assert.Equal(t, 1, errs)

	_, err := env.WaitForQuery(ctx, environment.Substring("/api/"), time.Second)
	assert.NoError(t, err)
}

func TestWaitForPageReleasesSubscribedRequests(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.Queue(environment.EventRequest, "https://example.com/api/items", environment.Args{"method": "POST"})

	w := environment.Await(env, environment.EventRequest, environment.Substring("/api/"))
	require.NoError(t, env.Goto(ctx, home))
	require.NoError(t, env.WaitForPage(ctx, time.Second))

	args, err := w.Wait(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "POST", args["method"])
}
