package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holdhq/counsel/llm"
)

func TestCompleteSendsMessagesAPIRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.System != "sys" || body.Model != "m1" || len(body.Messages) != 1 {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"hello"}]}`))
	}))
	defer srv.Close()

	c := New("key", "", WithBaseURL(srv.URL))
	out, err := c.Complete(context.Background(), llm.Request{
		Model:    "m1",
		System:   "sys",
		Messages: []llm.Turn{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestCompleteServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New("key", "", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{})
	if !llm.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestCompleteNoTextIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"tool_use"}]}`))
	}))
	defer srv.Close()

	_, err := New("key", "", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{})
	var me *llm.MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestCompleteUnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New("key", "", WithBaseURL(url)).Complete(context.Background(), llm.Request{})
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
