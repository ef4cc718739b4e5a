// Package model defines the core domain types shared across all counsel packages.
// It has zero dependencies on other counsel packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	// StatusEnded is terminal. An ended session accepts no new messages.
	StatusEnded Status = "ended"
)

// Mode represents the session interaction mode. It is fixed at creation.
type Mode string

const (
	// ModeSolo is a single counselor answering the user.
	ModeSolo Mode = "solo"
	// ModeMesa is two or more counselors debating in rotation.
	ModeMesa Mode = "mesa"
	// ModeRevision re-opens the decisions of an ended session in a fresh session at phase D.
	ModeRevision Mode = "revision"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeMesa, ModeRevision:
		return true
	}
	return false
}

// Phase is the HOLD framework phase a session is in.
type Phase string

const (
	PhaseHear     Phase = "H"
	PhaseOpen     Phase = "O"
	PhaseLeverage Phase = "L"
	PhaseDone     Phase = "D"
)

var phaseOrder = []Phase{PhaseHear, PhaseOpen, PhaseLeverage, PhaseDone}

// Next returns the phase after p. PhaseDone is its own successor.
func (p Phase) Next() Phase {
	for i, ph := range phaseOrder {
		if ph == p && i < len(phaseOrder)-1 {
			return phaseOrder[i+1]
		}
	}
	return PhaseDone
}

// Valid reports whether p is one of H, O, L, D.
func (p Phase) Valid() bool {
	for _, ph := range phaseOrder {
		if ph == p {
			return true
		}
	}
	return false
}

// Name returns the long name of the phase.
func (p Phase) Name() string {
	switch p {
	case PhaseHear:
		return "Hear"
	case PhaseOpen:
		return "Open debate"
	case PhaseLeverage:
		return "Leverage"
	case PhaseDone:
		return "Done"
	}
	return string(p)
}

// SpeakerUser is the speaker reference of messages written by the human user.
// Counselors are referenced 1..N by their position in Session.Participants.
const SpeakerUser = 0

// Session is one decision-making conversation.
type Session struct {
	ID             string    `json:"id"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	Phase          Phase     `json:"phase"`
	Participants   []string  `json:"participants"` // persona IDs, fixed at start
	Model          string    `json:"model,omitempty"`
	ProjectContext string    `json:"project_context,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"` // set on revision sessions
	MaxRounds      int       `json:"max_rounds,omitempty"`
	Messages       []Message `json:"messages"`
	TurnCursor     int       `json:"turn_cursor"`
	RoundCount     int       `json:"round_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the session so callers can read it without
// holding the owner's lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = append([]string(nil), s.Participants...)
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// LastSeq returns the sequence number of the newest message, or 0.
func (s *Session) LastSeq() int {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[len(s.Messages)-1].Seq
}

// Message is a single entry of the append-only session log.
type Message struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Seq         int    `json:"seq"`     // 1-based append position; the only ordering key
	Speaker     int    `json:"speaker"` // SpeakerUser or 1..N
	SpeakerName string `json:"speaker_name"`
	Content     string `json:"content"`
	Phase       Phase  `json:"phase"`
	// Intervention marks a user message injected mid-debate.
	Intervention bool `json:"intervention,omitempty"`
	// Addressed marks a counselor turn that answered pending interventions.
	// Such turns do not consume a rotation slot.
	Addressed bool `json:"addressed,omitempty"`
	// ContextSeq is the last Seq visible to the model when this turn was generated.
	ContextSeq int       `json:"context_seq,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FromUser reports whether the message was written by the user.
func (m Message) FromUser() bool { return m.Speaker == SpeakerUser }

// Persona is a counselor profile supplied by the persona store.
type Persona struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Tone          string   `json:"tone,omitempty" yaml:"tone"`
	Principles    []string `json:"principles,omitempty" yaml:"principles"`
	Biases        []string `json:"biases,omitempty" yaml:"biases"`
	Objectives    []string `json:"objectives,omitempty" yaml:"objectives"`
	Instructions  string   `json:"instructions,omitempty" yaml:"instructions"`
	RiskTolerance string   `json:"risk_tolerance,omitempty" yaml:"risk_tolerance"`
	Model         string   `json:"model,omitempty" yaml:"model"`
}

// DecisionStatus is the state of an extracted decision.
type DecisionStatus string

const (
	DecisionPending DecisionStatus = "pending"
	DecisionTaken   DecisionStatus = "taken"
)

// ParseDecisionStatus normalizes free-form model output. Anything that is not
// recognizably "taken" is pending.
func ParseDecisionStatus(s string) DecisionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "taken", "made", "decided", "done":
		return DecisionTaken
	}
	return DecisionPending
}

// Decision is one structured decision extracted from a transcript.
type Decision struct {
	Text    string         `json:"decision"`
	Context string         `json:"context"`
	Status  DecisionStatus `json:"status"`
}

// Summary is the derived end-of-session artifact. It is never merged back
// into the message log.
type Summary struct {
	SessionID string     `json:"session_id"`
	Text      string     `json:"summary"`
	Decisions []Decision `json:"decisions"`
	// Degraded is set when structured extraction failed. Text is then the
	// model prose, the raw response or a fallback.
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a single event in a session's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"` // "status", "turn", "intervention", "phase", "warning", "error", "summary"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Event types.
const (
	EventStatus       = "status"
	EventTurn         = "turn"
	EventIntervention = "intervention"
	EventPhase        = "phase"
	EventWarning      = "warning"
	EventError        = "error"
	EventSummary      = "summary"
)

// ValidateParticipants checks the participant count for a mode.
func ValidateParticipants(mode Mode, participants []string) error {
	switch mode {
	case ModeSolo:
		if len(participants) != 1 {
			return fmt.Errorf("solo mode needs exactly 1 participant, got %d", len(participants))
		}
	case ModeMesa:
		if len(participants) < 2 {
			return fmt.Errorf("mesa mode needs at least 2 participants, got %d", len(participants))
		}
	case ModeRevision:
		if len(participants) < 1 {
			return fmt.Errorf("revision mode needs at least 1 participant")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	for _, p := range participants {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("participant id must not be empty")
		}
	}
	return nil
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
