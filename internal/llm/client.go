// Package llm implements a thin client for OpenAI-compatible chat
// completions, plus the JSON schemas used to constrain structured output.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config for the chat client.
type Config struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	Model       string // default model when a request does not name one
	Temperature float32
	Timeout     time.Duration
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient validates the credential up front so a missing key fails at
// construction, not mid-pipeline.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}, nil
}

// ImageAttachment is a raster image sent inline with a user message.
type ImageAttachment struct {
	Data   []byte
	Format string // "png", "jpeg", ...
}

// Request describes one chat completion call.
type Request struct {
	Model        string // empty means Config.Model
	System       string
	User         string
	Images       []ImageAttachment
	JSONResponse bool // ask for a JSON object response
}

// Phrases that indicate the model talked itself out of the task instead of
// returning an API-level refusal.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// Complete performs one chat completion and returns the assistant content.
// Refusals map to *RefusalError and truncated answers to *IncompleteError so
// callers can surface the stated reason.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	start := time.Now()
	c.log.Debug("llm.complete.start",
		"model", model,
		"text_len", len(req.User),
		"images", len(req.Images),
		"json", req.JSONResponse,
	)

	body := map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages":    buildMessages(req),
	}
	if req.JSONResponse {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.complete.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}

	var cc struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	choice := cc.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return "", &RefusalError{Reason: refusal}
	}
	if choice.FinishReason == "length" {
		return "", &IncompleteError{Reason: "response truncated at token limit"}
	}
	content := strings.TrimSpace(choice.Message.Content)
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", &RefusalError{Reason: content}
		}
	}

	c.log.Debug("llm.complete.ok", "model", model, "content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds())
	return content, nil
}

func buildMessages(req Request) []map[string]any {
	var messages []map[string]any
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	if len(req.Images) == 0 {
		return append(messages, map[string]any{"role": "user", "content": req.User})
	}
	parts := []map[string]any{{"type": "text", "text": req.User}}
	for _, img := range req.Images {
		format := img.Format
		if format == "" {
			format = "png"
		}
		parts = append(parts, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": fmt.Sprintf("data:image/%s;base64,%s", format,
					base64.StdEncoding.EncodeToString(img.Data)),
			},
		})
	}
	return append(messages, map[string]any{"role": "user", "content": parts})
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
