package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokligence/chatrelay/internal/adapter"
	openaitypes "github.com/tokligence/chatrelay/internal/openai"
	"github.com/tokligence/chatrelay/internal/testutil"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func collect(t *testing.T, ch <-chan adapter.StreamEvent) (content string, errs []error) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return content, errs
			}
			if ev.IsError() {
				errs = append(errs, ev.Error)
				continue
			}
			content += ev.Text()
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestCreateCompletionStream_Success(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test123" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- body
		testutil.WriteSSE(w,
			`{"id":"chatcmpl-test","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
			`{"id":"chatcmpl-test","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
			`{"id":"chatcmpl-test","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo!"},"finish_reason":null}]}`,
			`{"id":"chatcmpl-test","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))

	adpt, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := openaitypes.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openaitypes.ChatMessage{
			{Role: "system", Content: "be precise"},
			{Role: "user", Content: "Hi"},
		},
		Stream:      true,
		Temperature: floatPtr(0),
		TopP:        floatPtr(1),
		MaxTokens:   intPtr(4096),
	}

	ch, err := adpt.CreateCompletionStream(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	content, errs := collect(t, ch)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if content != "Hello!" {
		t.Errorf("accumulated content = %q, want Hello!", content)
	}

	body := <-bodies
	if body["model"] != "gpt-4o" {
		t.Errorf("model = %v", body["model"])
	}
	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
	if body["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want 0", body["temperature"])
	}
	if body["max_tokens"] != float64(4096) {
		t.Errorf("max_tokens = %v, want 4096", body["max_tokens"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestCreateCompletionStream_EmptyMessages(t *testing.T) {
	adpt, err := New(Config{APIKey: "sk-test123"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = adpt.CreateCompletionStream(context.Background(), openaitypes.ChatCompletionRequest{Model: "gpt-4o"})
	if err == nil || !strings.Contains(err.Error(), "no messages") {
		t.Errorf("error = %v, want error containing 'no messages'", err)
	}
}

func TestCreateCompletionStream_ErrorResponse(t *testing.T) {
	var calls atomic.Int32
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))

	adpt, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.CreateCompletionStream(context.Background(), openaitypes.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openaitypes.ChatMessage{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}

	content, errs := collect(t, ch)
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "401") {
		t.Fatalf("errors = %v, want one 401 error", errs)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want exactly 1 (no retries)", n)
	}
}

func TestCreateCompletionStream_MalformedChunk(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w,
			`{"id":"test","object":"chat.completion.chunk","created":1234,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
			`{invalid json}`,
		)
	}))

	adpt, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch, err := adpt.CreateCompletionStream(context.Background(), openaitypes.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openaitypes.ChatMessage{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}

	content, errs := collect(t, ch)
	if content != "Hi" {
		t.Errorf("content = %q, want Hi", content)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", errs)
	}
}

func TestCreateCompletionStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w, `{"id":"test","object":"chat.completion.chunk","created":1234,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	adpt, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ch, err := adpt.CreateCompletionStream(ctx, openaitypes.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openaitypes.ChatMessage{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}

	// the channel must close once the context expires, whatever was delivered before
	content, _ := collect(t, ch)
	if content != "" && content != "Hello" {
		t.Errorf("content = %q", content)
	}
}
