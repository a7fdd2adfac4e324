// Package gemini implements omniforge.Provider for Google Gemini models over
// the generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	omniforge "github.com/omniforge/omniforge"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini sends chat requests to the Gemini API.
type Gemini struct {
	apiKey      string
	client      *http.Client
	temperature float64
}

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.client = c }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Gemini) { g.temperature = t }
}

// New creates a Gemini chat provider.
func New(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		client:      &http.Client{},
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	Contents          []wireContent `json:"contents"`
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type wireResponse struct {
	Candidates []struct {
		Content wireContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// APIError reports a non-2xx response from the Gemini API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: HTTP %d: %s", e.Status, e.Body)
}

// Chat sends a non-streaming generateContent request. System messages become
// the systemInstruction; assistant messages map to role "model".
func (g *Gemini) Chat(ctx context.Context, req omniforge.ChatRequest) (omniforge.ChatResponse, error) {
	var body wireRequest
	body.GenerationConfig.Temperature = g.temperature
	if req.Temperature != 0 {
		body.GenerationConfig.Temperature = req.Temperature
	}
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			body.SystemInstruction = &wireContent{Parts: []wirePart{{Text: m.Content}}}
		case "assistant":
			body.Contents = append(body.Contents, wireContent{Role: "model", Parts: []wirePart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, wireContent{Role: "user", Parts: []wirePart{{Text: m.Content}}})
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return omniforge.ChatResponse{}, fmt.Errorf("gemini: marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return omniforge.ChatResponse{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return omniforge.ChatResponse{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return omniforge.ChatResponse{}, &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return omniforge.ChatResponse{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return omniforge.ChatResponse{}, fmt.Errorf("gemini: response has no candidates")
	}

	var content string
	for _, part := range wire.Candidates[0].Content.Parts {
		content += part.Text
	}

	return omniforge.ChatResponse{
		Content: content,
		Usage: omniforge.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// Compile-time interface check.
var _ omniforge.Provider = (*Gemini)(nil)
