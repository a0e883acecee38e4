package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/schema"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dialect     string
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

// OpenAITranslator speaks the OpenAI-compatible chat completions protocol.
// Transient transport failures are retried a small fixed number of times
// with exponential backoff; the prompt is built once and never mutated
// between attempts.
type OpenAITranslator struct {
	baseURL     string
	apiKey      string
	model       string
	dialect     string
	temperature float64
	maxAttempts int
	client      *http.Client
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	dialect := strings.TrimSpace(cfg.Dialect)
	if dialect == "" {
		dialect = "postgres"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &OpenAITranslator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		dialect:     dialect,
		temperature: cfg.Temperature,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *OpenAITranslator) Synthesize(ctx context.Context, question Question, descriptor schema.Descriptor) (Candidate, error) {
	if strings.TrimSpace(question.Text) == "" {
		return Candidate{}, &Error{Kind: ErrMalformedResponse, Message: "question text is empty"}
	}

	prompt := buildPrompt(question, descriptor, t.dialect)
	body, err := json.Marshal(map[string]any{
		"model": t.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": t.temperature,
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(t.maxAttempts-1)),
		ctx,
	)
	content, err := backoff.RetryWithData(func() (string, error) {
		return t.roundTrip(ctx, body)
	}, policy)
	if err != nil {
		var synthErr *Error
		if errors.As(err, &synthErr) {
			return Candidate{}, synthErr
		}
		return Candidate{}, &Error{Kind: ErrUnreachable, Message: "chat completion failed", Err: err}
	}

	sqlText, ok := extractStatement(content)
	if !ok {
		return Candidate{}, &Error{Kind: ErrMalformedResponse, Message: "no SQL statement in model response"}
	}

	return Candidate{
		SQL:        sqlText,
		Dialect:    t.dialect,
		Model:      t.model,
		PromptHash: promptHash(prompt),
	}, nil
}

// roundTrip performs exactly one model call. Errors returned without
// backoff.Permanent are transport-level and may be retried.
func (t *OpenAITranslator) roundTrip(ctx context.Context, body []byte) (string, error) {
	observability.IncrementSynthesisAttempt()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build chat request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", backoff.Permanent(&Error{Kind: ErrTimeout, Message: "model call timed out", Err: err})
		}
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("chat completion failed status=%d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(&Error{
			Kind:    ErrUnreachable,
			Message: fmt.Sprintf("chat completion rejected status=%d body=%s", resp.StatusCode, string(rawBody)),
		})
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", backoff.Permanent(&Error{Kind: ErrMalformedResponse, Message: "undecodable chat completion response", Err: err})
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(&Error{Kind: ErrMalformedResponse, Message: "empty chat completion choices"})
	}
	return parsed.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
