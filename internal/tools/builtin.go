package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// currentDateTool is the canonical zero-argument built-in used throughout
// spec §8's end-to-end scenarios (scenario 2: "What is today's date?").
type currentDateTool struct{}

// NewCurrentDateTool returns a built-in tool that reports today's date in
// the server's local timezone as YYYY-MM-DD.
func NewCurrentDateTool() Tool { return currentDateTool{} }

func (currentDateTool) Info() Info {
	return Info{
		Name:        "current_date_tool",
		Description: "Returns the current date as YYYY-MM-DD.",
		Parameters:  map[string]any{},
		Required:    []string{},
	}
}

func (currentDateTool) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	return Result{Content: time.Now().Format("2006-01-02")}, nil
}

// calculatorTool evaluates a small arithmetic expression. It is a built-in
// meant to exercise the registry's duplicate-call and argument-validation
// paths in tests without requiring network access.
type calculatorTool struct{}

// NewCalculatorTool returns a built-in four-function arithmetic tool.
func NewCalculatorTool() Tool { return calculatorTool{} }

func (calculatorTool) Info() Info {
	return Info{
		Name:        "calculator",
		Description: "Evaluates a simple arithmetic expression of the form '<number> <op> <number>' where op is one of + - * /.",
		Parameters: map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "e.g. '2 + 2'",
			},
		},
		Required: []string{"expression"},
	}
}

func (calculatorTool) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	expr, _ := args["expression"].(string)
	var a, b float64
	var op string
	if _, err := fmt.Sscanf(expr, "%f %s %f", &a, &op, &b); err != nil {
		return Result{Content: fmt.Sprintf("could not parse expression %q", expr), IsError: true}, nil
	}
	var out float64
	switch op {
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "*":
		out = a * b
	case "/":
		if b == 0 {
			return Result{Content: "division by zero", IsError: true}, nil
		}
		out = a / b
	default:
		return Result{Content: fmt.Sprintf("unsupported operator %q", op), IsError: true}, nil
	}
	return Result{Content: fmt.Sprintf("%g", out)}, nil
}

// webFetchMaxContentLength caps the text handed back to the model, matching
// the teacher's crawler.extractMainContent truncation of long pages.
const webFetchMaxContentLength = 10000

// webFetchTool retrieves a URL and returns its page text, grounded on the
// teacher's pkg/core/worker.CrawlWorker.fetchURL/extractMainContent: a
// short-timeout GET followed by goquery extraction of the main content
// selectors, falling back to the full body.
type webFetchTool struct {
	client *http.Client
}

// NewWebFetchTool returns a built-in tool that fetches a URL over HTTP and
// extracts its readable text content.
func NewWebFetchTool() Tool {
	return webFetchTool{client: &http.Client{Timeout: 15 * time.Second}}
}

func (webFetchTool) Info() Info {
	return Info{
		Name:        "web_fetch",
		Description: "Fetches a web page by URL and returns its main text content.",
		Parameters: map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The absolute URL to fetch, e.g. 'https://example.com/article'",
			},
		},
		Required: []string{"url"},
	}
}

func (t webFetchTool) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	raw, _ := args["url"].(string)
	if raw == "" {
		return Result{Content: "url is required", IsError: true}, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Content: fmt.Sprintf("invalid url %q", raw), IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Result{Content: fmt.Sprintf("could not build request for %q", raw), IsError: true}, nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ConvoEngineBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{Content: fmt.Sprintf("fetch %q failed: %v", raw, err), IsError: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{Content: fmt.Sprintf("fetch %q returned status %d", raw, resp.StatusCode), IsError: true}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return Result{Content: fmt.Sprintf("reading body of %q failed: %v", raw, err), IsError: true}, nil
	}

	content := extractMainContent(body)
	if content == "" {
		return Result{Content: fmt.Sprintf("no readable content found at %q", raw), IsError: true}, nil
	}
	return Result{Content: content}, nil
}

// extractMainContent mirrors the teacher's CrawlWorker.extractMainContent:
// try a fixed list of content-container selectors before falling back to
// the whole body, then join paragraph/heading/list text, keeping only
// elements whose trimmed text is longer than 10 bytes, truncated to
// webFetchMaxContentLength.
func extractMainContent(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	selectors := []string{
		"article",
		"main",
		".content",
		".post-content",
		".entry-content",
		".article-content",
		"#content",
		".main-content",
	}

	var node *goquery.Selection
	for _, selector := range selectors {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			node = found
			break
		}
	}
	if node == nil {
		node = doc.Find("body")
	}

	var content strings.Builder
	node.Find("p, h1, h2, h3, h4, h5, h6, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" && len(text) > 10 {
			content.WriteString(text)
			content.WriteString("\n\n")
		}
	})

	result := strings.TrimSpace(content.String())
	if len(result) > webFetchMaxContentLength {
		result = result[:webFetchMaxContentLength] + "..."
	}
	return result
}
