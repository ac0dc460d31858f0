package tools_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/tools"
)

type stubTool struct {
	info   tools.Info
	result tools.Result
	err    error
	panics bool
}

func (s stubTool) Info() tools.Info { return s.info }

func (s stubTool) Invoke(ctx context.Context, args map[string]any) (tools.Result, error) {
	if s.panics {
		panic("stub tool panic")
	}
	return s.result, s.err
}

func TestRegistry(t *testing.T) {
	t.Run("registers and resolves a tool by name", func(t *testing.T) {
		r := tools.NewRegistry()
		tool := stubTool{info: tools.Info{Name: "echo"}}
		r.Register(tool)

		got, ok := r.Get("echo")
		assert.True(t, ok)
		assert.Equal(t, "echo", got.Info().Name)
	})

	t.Run("unknown tool is not found", func(t *testing.T) {
		r := tools.NewRegistry()
		_, ok := r.Get("missing")
		assert.False(t, ok)
	})

	t.Run("RegisterAll bulk-registers and List reflects every entry", func(t *testing.T) {
		r := tools.NewRegistry()
		r.RegisterAll([]tools.Tool{
			stubTool{info: tools.Info{Name: "a"}},
			stubTool{info: tools.Info{Name: "b"}},
		})
		names := make([]string, 0, 2)
		for _, info := range r.List() {
			names = append(names, info.Name)
		}
		assert.ElementsMatch(t, []string{"a", "b"}, names)
	})
}

func TestDispatcherInvoke(t *testing.T) {
	t.Run("unknown tool yields a diagnostic result, not found", func(t *testing.T) {
		d := tools.NewDispatcher(tools.NewRegistry())
		result, found := d.Invoke(context.Background(), "missing", nil)
		assert.False(t, found)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "not found")
	})

	t.Run("invalid arguments against schema yield a diagnostic result", func(t *testing.T) {
		r := tools.NewRegistry()
		r.Register(tools.NewCalculatorTool())
		d := tools.NewDispatcher(r)

		result, found := d.Invoke(context.Background(), "calculator", map[string]any{})
		assert.True(t, found)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "Invalid arguments")
	})

	t.Run("valid call dispatches and returns the tool's result", func(t *testing.T) {
		r := tools.NewRegistry()
		r.Register(tools.NewCalculatorTool())
		d := tools.NewDispatcher(r)

		result, found := d.Invoke(context.Background(), "calculator", map[string]any{"expression": "2 + 2"})
		assert.True(t, found)
		assert.False(t, result.IsError)
		assert.Equal(t, "4", result.Content)
	})

	t.Run("a panicking tool is recovered into a diagnostic result", func(t *testing.T) {
		r := tools.NewRegistry()
		r.Register(stubTool{info: tools.Info{Name: "boom"}, panics: true})
		d := tools.NewDispatcher(r)

		result, found := d.Invoke(context.Background(), "boom", nil)
		assert.True(t, found)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "panic")
	})

	t.Run("a tool returning an error is converted to a diagnostic result", func(t *testing.T) {
		r := tools.NewRegistry()
		r.Register(stubTool{info: tools.Info{Name: "fails"}, err: errors.New("boom")})
		d := tools.NewDispatcher(r)

		result, found := d.Invoke(context.Background(), "fails", nil)
		assert.True(t, found)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "Error calling tool")
	})
}

func TestBuiltinTools(t *testing.T) {
	t.Run("current_date_tool reports a YYYY-MM-DD date", func(t *testing.T) {
		result, err := tools.NewCurrentDateTool().Invoke(context.Background(), nil)
		assert.NoError(t, err)
		assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, result.Content)
	})

	t.Run("calculator divides", func(t *testing.T) {
		result, err := tools.NewCalculatorTool().Invoke(context.Background(), map[string]any{"expression": "8 / 2"})
		assert.NoError(t, err)
		assert.Equal(t, "4", result.Content)
	})

	t.Run("calculator rejects division by zero", func(t *testing.T) {
		result, err := tools.NewCalculatorTool().Invoke(context.Background(), map[string]any{"expression": "1 / 0"})
		assert.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("web_fetch extracts the main content of an HTML page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><nav>skip me</nav><article><h1>Title Here</h1><p>The first paragraph of real content.</p></article></body></html>`))
		}))
		defer srv.Close()

		result, err := tools.NewWebFetchTool().Invoke(context.Background(), map[string]any{"url": srv.URL})
		assert.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Contains(t, result.Content, "Title Here")
		assert.Contains(t, result.Content, "The first paragraph of real content.")
	})

	t.Run("web_fetch rejects a malformed url", func(t *testing.T) {
		result, err := tools.NewWebFetchTool().Invoke(context.Background(), map[string]any{"url": "not-a-url"})
		assert.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("web_fetch surfaces an HTTP error status as a diagnostic result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		result, err := tools.NewWebFetchTool().Invoke(context.Background(), map[string]any{"url": srv.URL})
		assert.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, "404")
	})
}
