package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
)

// SummaryStage extracts a prose summary and structured decisions from a
// finished session. It never fails: extraction problems produce a degraded
// summary instead of an error.
type SummaryStage struct {
	llm          llm.Completer
	systemPrompt string
	model        string
}

// NewSummaryStage creates a summary stage. Pass empty systemPrompt to use the default.
func NewSummaryStage(client llm.Completer, systemPrompt, model string) *SummaryStage {
	if systemPrompt == "" {
		systemPrompt = DefaultSummaryPrompt
	}
	return &SummaryStage{llm: client, systemPrompt: systemPrompt, model: model}
}

func (s *SummaryStage) Name() string { return "summary" }

type rawSummary struct {
	Summary   string          `json:"summary"`
	Decisions json.RawMessage `json:"decisions"`
}

type rawDecision struct {
	Decision string `json:"decision"`
	Context  string `json:"context"`
	Status   string `json:"status"`
}

// Summarize builds the extraction prompt from the transcript and parses the
// result. The session is read, never modified.
func (s *SummaryStage) Summarize(ctx context.Context, sess *model.Session) *model.Summary {
	sum := &model.Summary{SessionID: sess.ID, CreatedAt: time.Now().UTC()}

	modelName := s.model
	if modelName == "" {
		modelName = sess.Model
	}
	user := fmt.Sprintf("## Session\nMode: %s\nPhase reached: %s (%s)\n\n## Transcript\n%s",
		sess.Mode, sess.Phase, sess.Phase.Name(), Transcript(sess.Messages))
	response, err := s.llm.Complete(ctx, s.systemPrompt, []llm.Turn{{Role: llm.RoleUser, Content: user}}, modelName, "")
	if err != nil {
		sum.Text = FallbackSummary(sess)
		sum.Degraded = true
		sum.Decisions = []model.Decision{}
		return sum
	}

	parsed, err := ParseSummary(response)
	if err != nil {
		sum.Text = strings.TrimSpace(response)
		sum.Degraded = true
		sum.Decisions = []model.Decision{}
		return sum
	}
	sum.Text = parsed.Text
	sum.Decisions = parsed.Decisions
	sum.Degraded = parsed.Degraded
	return sum
}

// ParseSummary decodes the JSON object returned by the model. Markdown fences
// and surrounding prose are tolerated. A usable summary with a malformed
// decisions field is returned with no decisions and Degraded set.
func ParseSummary(response string) (*model.Summary, error) {
	raw := extractJSONObject(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var r rawSummary
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return nil, fmt.Errorf("summary text is empty")
	}
	out := &model.Summary{Text: strings.TrimSpace(r.Summary), Decisions: []model.Decision{}}

	var decisions []rawDecision
	if len(r.Decisions) > 0 && string(r.Decisions) != "null" {
		if err := json.Unmarshal(r.Decisions, &decisions); err != nil {
			out.Degraded = true
			return out, nil
		}
	}
	for _, d := range decisions {
		text := strings.TrimSpace(d.Decision)
		if text == "" {
			continue
		}
		out.Decisions = append(out.Decisions, model.Decision{
			Text:    text,
			Context: strings.TrimSpace(d.Context),
			Status:  model.ParseDecisionStatus(d.Status),
		})
	}
	return out, nil
}

func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// FallbackSummary is the minimal summary produced without the model.
func FallbackSummary(sess *model.Session) string {
	counselor, user := 0, 0
	for _, m := range sess.Messages {
		if m.FromUser() {
			user++
		} else {
			counselor++
		}
	}
	topic := ""
	for _, m := range sess.Messages {
		if m.FromUser() {
			topic = model.Truncate(m.Content, 200)
			break
		}
	}
	text := fmt.Sprintf("%s session with %d counselor(s) ended in phase %s after %d counselor turn(s) and %d user message(s).",
		sess.Mode, len(sess.Participants), sess.Phase, counselor, user)
	if topic != "" {
		text += " Topic: " + topic
	}
	return text
}
