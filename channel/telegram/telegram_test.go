package telegram

import (
	"strings"
	"testing"

	"github.com/holdhq/counsel/channel"
	"github.com/holdhq/counsel/model"
)

func TestEscapeRoundTrip(t *testing.T) {
	in := "Raise $2M (maybe) - at 10x. Really!"
	esc := escapeMarkdown(in)
	if esc == in || !strings.Contains(esc, "\\(") || !strings.Contains(esc, "\\.") {
		t.Fatalf("not escaped: %q", esc)
	}
	if got := stripMarkdown(esc); got != in {
		t.Fatalf("stripMarkdown(escapeMarkdown(x)) = %q, want %q", got, in)
	}
}

func TestFormatTurn(t *testing.T) {
	got := formatTurn(channel.Reply{Speaker: "Skeptic", Text: "No."})
	if got != "*Skeptic*\nNo\\." {
		t.Fatalf("unexpected turn: %q", got)
	}
}

func TestFormatSummary(t *testing.T) {
	got := formatSummary(&model.Summary{
		Text:      "Wait.",
		Decisions: []model.Decision{{Text: "Hire in Q3", Status: model.DecisionTaken}},
	})
	if !strings.Contains(got, "Session closed") || !strings.Contains(got, "1\\. Hire in Q3 \\[taken\\]") {
		t.Fatalf("unexpected summary: %q", got)
	}
	if degraded := formatSummary(&model.Summary{Text: "x", Degraded: true}); !strings.Contains(degraded, "could not be extracted") {
		t.Fatalf("degraded flag not shown: %q", degraded)
	}
}

func TestSplit(t *testing.T) {
	if got := split("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %q", got)
	}

	got := split("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("expected split on newline, got %q", got)
	}

	// Never leave a dangling backslash at the end of a chunk.
	for _, part := range split("abcdefgh\\.ij", 9) {
		if strings.HasSuffix(part, "\\") {
			t.Fatalf("chunk ends inside an escape: %q", part)
		}
	}
}

func TestConversationKey(t *testing.T) {
	if got := conversationKey(-100123); got != "telegram:-100123" {
		t.Fatalf("unexpected key %q", got)
	}
}
