package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	system   string
	history  []llm.Turn
}

func (f *fakeLLM) Complete(ctx context.Context, system string, history []llm.Turn, model, intervention string) (string, error) {
	f.calls++
	f.system = system
	f.history = history
	return f.response, f.err
}

func testSession() *model.Session {
	return &model.Session{
		ID:           "s1",
		Mode:         model.ModeMesa,
		Phase:        model.PhaseLeverage,
		Participants: []string{"pragmatist", "skeptic"},
		Messages: []model.Message{
			{Seq: 1, Speaker: 0, SpeakerName: "User", Content: "Should I raise a seed round now?", Phase: model.PhaseHear},
			{Seq: 2, Speaker: 1, SpeakerName: "Pragmatist", Content: "Only with 18 months of runway.", Phase: model.PhaseHear},
			{Seq: 3, Speaker: 2, SpeakerName: "Skeptic", Content: "Traction first.", Phase: model.PhaseHear},
			{Seq: 4, Speaker: 0, SpeakerName: "User", Content: "We have 3 pilots.", Phase: model.PhaseOpen, Intervention: true},
		},
	}
}

func TestBuildPersonaPromptDeterministic(t *testing.T) {
	p := model.Persona{
		ID:            "pragmatist",
		Name:          "Pragmatist",
		Tone:          "direct",
		Principles:    []string{"cash is oxygen", "ship small"},
		Objectives:    []string{"keep the company alive"},
		RiskTolerance: "low",
		Instructions:  "Use numbers.",
	}
	a := BuildPersonaPrompt(p)
	b := BuildPersonaPrompt(p)
	if a != b {
		t.Fatal("expected identical output for identical input")
	}
	for _, want := range []string{"You are Pragmatist", "tone is direct", "risk tolerance is low", "- cash is oxygen", "## Instructions\nUse numbers."} {
		if !strings.Contains(a, want) {
			t.Fatalf("missing %q in:\n%s", want, a)
		}
	}
	if strings.Contains(a, "Biases") {
		t.Fatalf("empty biases should be omitted:\n%s", a)
	}
}

func TestBuildPersonaPromptMinimal(t *testing.T) {
	got := BuildPersonaPrompt(model.Persona{ID: "x", Biases: []string{"  "}})
	if strings.Contains(got, "##") || strings.Contains(got, "tone") {
		t.Fatalf("expected only the identity line, got:\n%s", got)
	}
	if !strings.Contains(got, "You are x") {
		t.Fatalf("expected id fallback, got %q", got)
	}
}

func TestComposeSystemPrompt(t *testing.T) {
	got := ComposeSystemPrompt(model.Persona{Name: "Skeptic"}, PromptContext{
		Phase:          model.PhaseOpen,
		Mode:           model.ModeMesa,
		Peers:          []string{"Pragmatist"},
		ProjectContext: "B2B SaaS, 4 people",
	})
	for _, want := range []string{"You are Skeptic", "debating with Pragmatist", "OPEN DEBATE", "## Project context\nB2B SaaS"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestRoleTagged(t *testing.T) {
	turns := RoleTagged(testSession().Messages, 2)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	if turns[1].Role != llm.RoleUser || turns[1].Content != "[Pragmatist]: Only with 18 months of runway." {
		t.Fatalf("peer turn not tagged: %+v", turns[1])
	}
	if turns[2].Role != llm.RoleAssistant || turns[2].Content != "Traction first." {
		t.Fatalf("own turn should be assistant: %+v", turns[2])
	}
	if !strings.HasPrefix(turns[3].Content, "[User interjects]: ") {
		t.Fatalf("intervention not marked: %+v", turns[3])
	}
}

func TestSummarizeParsesDecisions(t *testing.T) {
	f := &fakeLLM{response: "```json\n{\"summary\":\"Raise later.\",\"decisions\":[{\"decision\":\"Delay the raise\",\"context\":\"runway\",\"status\":\"taken\"},{\"decision\":\"\",\"status\":\"pending\"}]}\n```"}
	sum := NewSummaryStage(f, "", "").Summarize(context.Background(), testSession())
	if sum.Degraded {
		t.Fatal("expected structured summary")
	}
	if sum.Text != "Raise later." {
		t.Fatalf("unexpected text %q", sum.Text)
	}
	if len(sum.Decisions) != 1 || sum.Decisions[0].Status != model.DecisionTaken {
		t.Fatalf("unexpected decisions %+v", sum.Decisions)
	}
	if !strings.Contains(f.history[0].Content, "We have 3 pilots.") {
		t.Fatal("transcript missing from extraction prompt")
	}
}

func TestSummarizeDegradesOnBadJSON(t *testing.T) {
	f := &fakeLLM{response: "We talked about fundraising."}
	sum := NewSummaryStage(f, "", "").Summarize(context.Background(), testSession())
	if !sum.Degraded {
		t.Fatal("expected degraded summary")
	}
	if sum.Text != "We talked about fundraising." {
		t.Fatalf("expected raw text kept, got %q", sum.Text)
	}
	if sum.Decisions == nil || len(sum.Decisions) != 0 {
		t.Fatalf("expected empty decisions list, got %+v", sum.Decisions)
	}
}

func TestSummarizeKeepsProseWhenDecisionsMalformed(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"string", `{"summary":"We delay.","decisions":"none"}`},
		{"object", `{"summary":"We delay.","decisions":{"decision":"x"}}`},
		{"wrong element", `{"summary":"We delay.","decisions":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := NewSummaryStage(&fakeLLM{response: tt.response}, "", "").Summarize(context.Background(), testSession())
			if !sum.Degraded {
				t.Fatal("expected degraded summary")
			}
			if sum.Text != "We delay." {
				t.Fatalf("expected the prose summary, got %q", sum.Text)
			}
			if sum.Decisions == nil || len(sum.Decisions) != 0 {
				t.Fatalf("expected empty decisions list, got %+v", sum.Decisions)
			}
		})
	}
}

func TestParseSummaryMissingDecisions(t *testing.T) {
	sum, err := ParseSummary(`{"summary":"Nothing was decided."}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sum.Degraded || len(sum.Decisions) != 0 {
		t.Fatalf("absent decisions is an empty list, not a degraded one: %+v", sum)
	}
}

func TestSummarizeFallsBackOnGatewayError(t *testing.T) {
	f := &fakeLLM{err: errors.New("down")}
	sum := NewSummaryStage(f, "", "").Summarize(context.Background(), testSession())
	if !sum.Degraded {
		t.Fatal("expected degraded summary")
	}
	if !strings.Contains(sum.Text, "Should I raise a seed round now?") {
		t.Fatalf("fallback should mention the topic: %q", sum.Text)
	}
}

func TestSummarizeDoesNotMutateSession(t *testing.T) {
	sess := testSession()
	before := len(sess.Messages)
	NewSummaryStage(&fakeLLM{response: `{"summary":"x","decisions":[]}`}, "", "").Summarize(context.Background(), sess)
	if len(sess.Messages) != before {
		t.Fatal("summarize appended to the log")
	}
}

func TestRevisionSeed(t *testing.T) {
	got := RevisionSeed(&model.Summary{Decisions: []model.Decision{{Text: "Hire a CTO", Context: "tech debt", Status: model.DecisionPending}}})
	if !strings.Contains(got, "1. Hire a CTO [pending]") || !strings.Contains(got, "Context: tech debt") {
		t.Fatalf("unexpected seed:\n%s", got)
	}
	if !strings.Contains(RevisionSeed(nil), "none were recorded") {
		t.Fatal("expected empty marker")
	}
}
