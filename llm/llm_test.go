package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("ascii: got %d, want 1", got)
	}
	if got := EstimateTokens("日本"); got != 2 {
		t.Fatalf("cjk: got %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty: got %d, want 0", got)
	}
}

func TestTruncateHistoryMessageLimit(t *testing.T) {
	h := []Turn{{RoleUser, "a"}, {RoleAssistant, "b"}, {RoleUser, "c"}}
	got := TruncateHistory(h, 0, 2)
	if len(got) != 2 || got[0].Content != "b" {
		t.Fatalf("unexpected truncation: %+v", got)
	}
}

func TestTruncateHistoryKeepsLastTurn(t *testing.T) {
	h := []Turn{{RoleUser, strings.Repeat("x", 400)}, {RoleUser, strings.Repeat("y", 400)}}
	got := TruncateHistory(h, 10, 0)
	if len(got) != 1 || got[0].Content[0] != 'y' {
		t.Fatalf("expected only the last turn, got %d turns", len(got))
	}
}

func TestNormalize(t *testing.T) {
	h := []Turn{
		{RoleAssistant, "opening"},
		{RoleUser, "a"},
		{RoleUser, "b"},
		{RoleUser, "  "},
		{RoleAssistant, "reply"},
	}
	got := Normalize(h)
	if got[0].Role != RoleUser {
		t.Fatalf("first turn must be user, got %s", got[0].Role)
	}
	if got[len(got)-1].Role != RoleUser || got[len(got)-1].Content != "Continue." {
		t.Fatalf("expected trailing continue prompt, got %+v", got[len(got)-1])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Role == got[i-1].Role {
			t.Fatalf("consecutive %s turns at %d", got[i].Role, i)
		}
	}
	if got[2].Content != "a\n\nb" {
		t.Fatalf("expected merged user turns, got %q", got[2].Content)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	got := Normalize(nil)
	if len(got) != 1 || got[0].Role != RoleUser {
		t.Fatalf("expected single user turn, got %+v", got)
	}
}

func TestGatewayAddsInterventionAndDefaultModel(t *testing.T) {
	var seen Request
	g := NewGateway(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		seen = req
		return "  answer  ", nil
	}), GatewayConfig{Model: "default-model"})

	out, err := g.Complete(context.Background(), "be brief", []Turn{{RoleUser, "hi"}}, "", "what about cost?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "answer" {
		t.Fatalf("expected trimmed output, got %q", out)
	}
	if seen.Model != "default-model" {
		t.Fatalf("expected default model, got %q", seen.Model)
	}
	if seen.MaxTokens != 1024 {
		t.Fatalf("expected default max tokens, got %d", seen.MaxTokens)
	}
	if !strings.Contains(seen.System, "what about cost?") {
		t.Fatalf("intervention missing from system prompt: %q", seen.System)
	}
}

func TestGatewayEmptyContent(t *testing.T) {
	g := NewGateway(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		return " \n", nil
	}), GatewayConfig{})
	_, err := g.Complete(context.Background(), "", nil, "m", "")
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("empty content should not be retryable")
	}
}

func TestGatewayTimeoutIsTransport(t *testing.T) {
	g := NewGateway(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), GatewayConfig{Timeout: 10 * time.Millisecond})

	_, err := g.Complete(context.Background(), "", nil, "m", "")
	var te *TransportError
	if !errors.As(err, &te) || !te.Timeout {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("timeout should be retryable")
	}
}

func TestGatewayPassesTypedErrors(t *testing.T) {
	want := &MalformedResponseError{Provider: "x", Err: errors.New("bad json")}
	g := NewGateway(ClientFunc(func(ctx context.Context, req Request) (string, error) {
		return "", want
	}), GatewayConfig{})
	_, err := g.Complete(context.Background(), "", nil, "m", "")
	var me *MalformedResponseError
	if !errors.As(err, &me) || me != want {
		t.Fatalf("expected original malformed error, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	if !IsRetryable(StatusError("p", 503, []byte("down"))) {
		t.Fatal("503 should be retryable")
	}
	if !IsRetryable(StatusError("p", 429, nil)) {
		t.Fatal("429 should be retryable")
	}
	err := StatusError("p", 400, []byte("bad"))
	var me *MalformedResponseError
	if !errors.As(err, &me) || me.StatusCode != 400 {
		t.Fatalf("expected malformed 400, got %v", err)
	}
}

func TestStatusErrorTruncatesOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("é", 600))
	var me *MalformedResponseError
	if !errors.As(StatusError("p", 400, body), &me) {
		t.Fatal("expected malformed error")
	}
	if !utf8.ValidString(me.Body) {
		t.Fatalf("body snippet is not valid UTF-8: %q", me.Body)
	}
	if n := utf8.RuneCountInString(me.Body); n != 512 {
		t.Fatalf("expected 512 runes, got %d", n)
	}

	var te *TransportError
	if !errors.As(StatusError("p", 503, body), &te) || !utf8.ValidString(te.Err.Error()) {
		t.Fatalf("transport snippet is not valid UTF-8: %v", te)
	}
}
