package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

const (
	requestTimeout = 90 * time.Second
	maxRetryWindow = 2 * time.Minute

	defaultModel      = "anthropic/claude-3.5-sonnet"
	defaultEmbedModel = "openai/text-embedding-3-small"
)

// Adapter talks to an OpenRouter-compatible API and provides both the
// text-generation and the embedding capability.
type Adapter struct {
	key        string
	model      string
	embedModel string
	baseURL    string
	client     *http.Client
}

func New(apiKey, model, embedModel, baseURL string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	baseURL = normalizeBaseURL(baseURL)
	return &Adapter{
		key:        apiKey,
		model:      model,
		embedModel: embedModel,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// Generate issues a single chat completion. When the request carries a
// schema, it is sent as a strict json_schema response format so the
// model returns valid JSON directly.
func (a *Adapter) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	messages := make([]map[string]any, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Input})

	payload := map[string]any{
		"model":    a.model,
		"stream":   false,
		"messages": messages,
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"schema": req.Schema,
			},
		}
	}

	body, err := a.post(ctx, "/api/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("decode completion: %w: %v", types.ErrValidation, err)
	}
	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices: %w", types.ErrValidation)
	}
	return messageContentToString(raw.Choices[0].Message.Content)
}

// Embed returns one vector per input text, in input order.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := a.post(ctx, "/api/v1/embeddings", map[string]any{
		"model": a.embedModel,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w: %v", types.ErrValidation, err)
	}
	if len(raw.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs: %w", len(raw.Data), len(texts), types.ErrValidation)
	}

	out := make([][]float64, len(texts))
	for _, d := range raw.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding index %d out of range or empty: %w", d.Index, types.ErrValidation)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// post sends one JSON request and returns the response body. Network
// errors, 429 and 5xx responses are retried with exponential backoff
// within the request timeout; other statuses fail immediately. Whatever
// escapes is wrapped as a transport error for the caller's bookkeeping.
func (a *Adapter) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := a.baseURL + path

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var out []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+a.key)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		rb, readErr := io.ReadAll(resp.Body)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				return readErr
			}
			out = rb
			return nil
		}

		statusErr := fmt.Errorf("openrouter status %d: %s",
			resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = maxRetryWindow
	if err := backoff.Retry(attempt, backoff.WithContext(bo, reqCtx)); err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("openrouter timeout after %s (model=%s): %w", requestTimeout, a.model, types.ErrTransport)
		}
		return nil, fmt.Errorf("%v: %w", err, types.ErrTransport)
	}
	return out, nil
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("empty content: %w", types.ErrValidation)
		}
		return s, nil
	default:
		return "", fmt.Errorf("unexpected content type %T: %w", v, types.ErrValidation)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
