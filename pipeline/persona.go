package pipeline

import (
	"fmt"
	"strings"

	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
)

// BuildPersonaPrompt renders a persona as a deterministic system prompt.
// Empty fields are omitted.
func BuildPersonaPrompt(p model.Persona) string {
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = p.ID
	}
	fmt.Fprintf(&b, "You are %s, a counselor helping a founder make a decision.", name)

	if tone := strings.TrimSpace(p.Tone); tone != "" {
		fmt.Fprintf(&b, "\nYour tone is %s.", tone)
	}
	if rt := strings.TrimSpace(p.RiskTolerance); rt != "" {
		fmt.Fprintf(&b, "\nYour risk tolerance is %s.", rt)
	}
	writeList(&b, "Principles you hold", p.Principles)
	writeList(&b, "Biases you are known for", p.Biases)
	writeList(&b, "Objectives you pursue", p.Objectives)
	if ins := strings.TrimSpace(p.Instructions); ins != "" {
		b.WriteString("\n\n## Instructions\n")
		b.WriteString(ins)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	var lines []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			lines = append(lines, "- "+it)
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n## %s\n%s", title, strings.Join(lines, "\n"))
}

// PromptContext carries the per-turn facts a system prompt depends on.
type PromptContext struct {
	Phase          model.Phase
	Mode           model.Mode
	Peers          []string // display names of the other counselors
	ProjectContext string
}

// ComposeSystemPrompt combines the persona prompt with phase guidance, the
// mesa roster and the session's project context.
func ComposeSystemPrompt(p model.Persona, pc PromptContext) string {
	parts := []string{BuildPersonaPrompt(p)}
	if len(pc.Peers) > 0 {
		parts = append(parts, fmt.Sprintf("You are debating with %s. Their messages appear prefixed with their name. Speak only as yourself.",
			strings.Join(pc.Peers, ", ")))
	}
	if g := PhaseGuidance(pc.Phase); g != "" {
		parts = append(parts, g)
	}
	if ctx := strings.TrimSpace(pc.ProjectContext); ctx != "" {
		parts = append(parts, "## Project context\n"+ctx)
	}
	return strings.Join(parts, "\n\n")
}

// PhaseGuidance returns the instruction block for a HOLD phase.
func PhaseGuidance(p model.Phase) string {
	switch p {
	case model.PhaseHear:
		return hearGuidance
	case model.PhaseOpen:
		return openGuidance
	case model.PhaseLeverage:
		return leverageGuidance
	case model.PhaseDone:
		return doneGuidance
	}
	return ""
}

// RoleTagged translates the session log into provider turns from the point
// of view of speaker. The speaker's own messages become assistant turns;
// the user and other counselors become user turns, with counselors prefixed
// by name so the model can tell them apart.
func RoleTagged(msgs []model.Message, speaker int) []llm.Turn {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Speaker == speaker && !m.FromUser():
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: m.Content})
		case m.FromUser() && m.Intervention:
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: "[User interjects]: " + m.Content})
		case m.FromUser():
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: m.Content})
		default:
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: fmt.Sprintf("[%s]: %s", speakerLabel(m), m.Content)})
		}
	}
	return turns
}

func speakerLabel(m model.Message) string {
	if m.SpeakerName != "" {
		return m.SpeakerName
	}
	if m.FromUser() {
		return "User"
	}
	return fmt.Sprintf("Counselor %d", m.Speaker)
}

// Transcript renders the log as plain text, one message per paragraph.
func Transcript(msgs []model.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := speakerLabel(m)
		if m.Intervention {
			label += " (interjection)"
		}
		fmt.Fprintf(&b, "%s [%s]: %s", label, m.Phase, m.Content)
	}
	return b.String()
}

// RevisionSeed renders prior decisions as the opening message of a revision session.
func RevisionSeed(sum *model.Summary) string {
	var b strings.Builder
	b.WriteString(revisionIntro)
	if sum == nil || len(sum.Decisions) == 0 {
		b.WriteString("\n(none were recorded)")
		if sum != nil && sum.Text != "" {
			b.WriteString("\n\nSummary of that session:\n")
			b.WriteString(sum.Text)
		}
		return b.String()
	}
	for i, d := range sum.Decisions {
		fmt.Fprintf(&b, "\n%d. %s [%s]", i+1, d.Text, d.Status)
		if d.Context != "" {
			fmt.Fprintf(&b, "\n   Context: %s", d.Context)
		}
	}
	b.WriteString("\n\nRevisit these decisions and say which still hold.")
	return b.String()
}
