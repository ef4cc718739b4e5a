package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holdhq/counsel/llm"
)

func TestCompletePrependsSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Model != DefaultModel {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := New("key", "", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{
		System:   "sys",
		Messages: []llm.Turn{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("got %q", out)
	}
}

func TestCompleteNoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New("key", "", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{})
	var me *llm.MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestCompleteBadRequestNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New("key", "", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{})
	if err == nil || llm.IsRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}
