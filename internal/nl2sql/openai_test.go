package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func newTranslator(t *testing.T, baseURL string, maxAttempts int) *OpenAITranslator {
	t.Helper()
	translator, err := NewOpenAITranslator(OpenAIConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "test-model",
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("translator setup failed: %v", err)
	}
	return translator
}

func TestSynthesizeReturnsCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(chatResponse("```sql\nSELECT ministry FROM spending LIMIT 5\n```"))
	}))
	defer server.Close()

	candidate, err := newTranslator(t, server.URL, 1).Synthesize(context.Background(), Question{Text: "top ministries"}, promptDescriptor())
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if candidate.SQL != "SELECT ministry FROM spending LIMIT 5" {
		t.Fatalf("sql = %q", candidate.SQL)
	}
	if candidate.Model != "test-model" || candidate.PromptHash == "" {
		t.Fatalf("candidate = %+v", candidate)
	}
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("SELECT 1"))
	}))
	defer server.Close()

	if _, err := newTranslator(t, server.URL, 2).Synthesize(context.Background(), Question{Text: "anything"}, promptDescriptor()); err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestSynthesizeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTranslator(t, server.URL, 3).Synthesize(context.Background(), Question{Text: "anything"}, promptDescriptor())
	var synthErr *Error
	if !errors.As(err, &synthErr) || synthErr.Kind != ErrUnreachable {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestSynthesizeClassifiesMalformedResponses(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"choices":[]}`,
	}
	for _, body := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		_, err := newTranslator(t, server.URL, 1).Synthesize(context.Background(), Question{Text: "anything"}, promptDescriptor())
		server.Close()

		var synthErr *Error
		if !errors.As(err, &synthErr) || synthErr.Kind != ErrMalformedResponse {
			t.Fatalf("body %q err = %v", body, err)
		}
	}
}

func TestSynthesizeClassifiesNonSQLContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("I am unable to write SQL for that."))
	}))
	defer server.Close()

	_, err := newTranslator(t, server.URL, 1).Synthesize(context.Background(), Question{Text: "anything"}, promptDescriptor())
	var synthErr *Error
	if !errors.As(err, &synthErr) || synthErr.Kind != ErrMalformedResponse {
		t.Fatalf("err = %v", err)
	}
}

func TestSynthesizeClassifiesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_ = json.NewEncoder(w).Encode(chatResponse("SELECT 1"))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(OpenAIConfig{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		Timeout:     50 * time.Millisecond,
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("translator setup failed: %v", err)
	}

	_, err = translator.Synthesize(context.Background(), Question{Text: "anything"}, promptDescriptor())
	var synthErr *Error
	if !errors.As(err, &synthErr) || synthErr.Kind != ErrTimeout {
		t.Fatalf("err = %v", err)
	}
}

func TestSynthesizeRejectsEmptyQuestion(t *testing.T) {
	translator := newTranslator(t, "http://unused.invalid", 1)
	_, err := translator.Synthesize(context.Background(), Question{Text: "   "}, promptDescriptor())
	var synthErr *Error
	if !errors.As(err, &synthErr) || synthErr.Kind != ErrMalformedResponse {
		t.Fatalf("err = %v", err)
	}
}
