// Package http provides an http_fetch tool that downloads a URL and extracts
// readable text.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	omniforge "github.com/omniforge/omniforge"
)

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// New creates an HTTP tool with a 15-second timeout.
func New() *Tool {
	return &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Tool) Definition() omniforge.ToolDefinition {
	return omniforge.ToolDefinition{
		Name:        "http_fetch",
		Type:        "builtin",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters: []omniforge.ToolParameter{
			{Name: "url", Type: "string", Required: true, Description: "URL to fetch"},
		},
		Visibility: omniforge.VisibilityFull,
		Timeout:    20 * time.Second,
		Retry: omniforge.RetryPolicy{
			MaxRetries: 2,
			Backoff:    250 * time.Millisecond,
			Multiplier: 2,
		},
	}
}

func (t *Tool) Execute(ctx context.Context, call omniforge.ToolCallContext, args map[string]any) (omniforge.ToolResult, error) {
	rawURL, _ := args["url"].(string)
	content, err := t.Fetch(ctx, rawURL)
	if err != nil {
		return omniforge.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > 8000 {
		content = content[:8000] + "\n... (truncated)"
	}
	return omniforge.ToolResult{Success: true, Result: content}, nil
}

// Fetch downloads a URL and extracts readable text. Exported for use by other
// tools.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OmniforgeBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	return stripHTML(html), nil
}

// stripHTML is the fallback when readability extraction yields nothing: drop
// tags, collapse whitespace.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var _ omniforge.Tool = (*Tool)(nil)
