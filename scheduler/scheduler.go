// Package scheduler decides which counselor speaks next in a session.
//
// Every function here is pure: it reads a Session snapshot and never mutates
// it. The engine owns all state changes and calls Commit after a turn has been
// appended successfully.
package scheduler

import (
	"strings"

	"github.com/holdhq/counsel/model"
)

// Pick is the scheduling decision for the next turn.
type Pick struct {
	// Index is the zero-based position in Session.Participants.
	Index int
	// Speaker is the speaker reference of the chosen counselor (Index+1).
	Speaker int
	// Participant is the persona ID of the chosen counselor.
	Participant string
	// AddressesIntervention is set when pending interventions override rotation.
	AddressesIntervention bool
	// Intervention is the concatenated text of all pending interventions.
	Intervention string
	// ContextSeq is the last message Seq the turn will see.
	ContextSeq int
}

// Next returns who speaks next. Pending interventions are answered by the
// counselor at the cursor without consuming the slot; otherwise the cursor
// decides. The cursor is clamped so it always indexes a valid participant.
func Next(sess *model.Session) Pick {
	n := len(sess.Participants)
	if n == 0 {
		return Pick{}
	}
	idx := sess.TurnCursor % n
	if idx < 0 {
		idx += n
	}
	pick := Pick{
		Index:       idx,
		Speaker:     idx + 1,
		Participant: sess.Participants[idx],
		ContextSeq:  sess.LastSeq(),
	}
	if pending := Pending(sess); len(pending) > 0 {
		pick.AddressesIntervention = true
		texts := make([]string, 0, len(pending))
		for _, m := range pending {
			texts = append(texts, m.Content)
		}
		pick.Intervention = strings.Join(texts, "\n\n")
	}
	return pick
}

// Pending returns the interventions no counselor has seen yet, in append order.
// An intervention is resolved once any counselor turn was generated with it in
// context.
func Pending(sess *model.Session) []model.Message {
	seen := 0
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		m := sess.Messages[i]
		if !m.FromUser() {
			seen = m.ContextSeq
			if seen == 0 {
				// Messages written before ContextSeq existed saw everything before them.
				seen = m.Seq - 1
			}
			break
		}
	}
	var out []model.Message
	for _, m := range sess.Messages {
		if m.Intervention && m.Seq > seen {
			out = append(out, m)
		}
	}
	return out
}

// HasPending reports whether any intervention is waiting for a response.
func HasPending(sess *model.Session) bool {
	return len(Pending(sess)) > 0
}

// Commit advances the rotation after a successful turn described by pick.
// A turn that addressed interventions leaves cursor and round untouched.
func Commit(sess *model.Session, pick Pick) {
	if pick.AddressesIntervention {
		return
	}
	n := len(sess.Participants)
	if n == 0 {
		return
	}
	sess.TurnCursor = (pick.Index + 1) % n
	if sess.TurnCursor == 0 {
		sess.RoundCount++
	}
}

// Rebuild recomputes cursor and round from the message log alone. Stored
// counters are ignored because they can be stale relative to the log.
func Rebuild(sess *model.Session) {
	n := len(sess.Participants)
	if n == 0 {
		sess.TurnCursor, sess.RoundCount = 0, 0
		return
	}
	turns := RotationTurns(sess)
	sess.TurnCursor = turns % n
	sess.RoundCount = turns / n
}

// RotationTurns counts counselor turns that consumed a rotation slot.
func RotationTurns(sess *model.Session) int {
	count := 0
	for _, m := range sess.Messages {
		if !m.FromUser() && !m.Addressed {
			count++
		}
	}
	return count
}

// PhaseTurns counts counselor turns appended while the session was in phase.
func PhaseTurns(sess *model.Session, phase model.Phase) int {
	count := 0
	for _, m := range sess.Messages {
		if !m.FromUser() && m.Phase == phase {
			count++
		}
	}
	return count
}

// ShouldContinue reports whether the debate should advance automatically.
// maxRounds <= 0 means no ceiling. A pending intervention is always answered,
// even once the ceiling is reached.
func ShouldContinue(sess *model.Session, maxRounds int) bool {
	if sess.Status == model.StatusPaused || sess.Status == model.StatusEnded {
		return false
	}
	if HasPending(sess) {
		return true
	}
	if maxRounds > 0 && sess.RoundCount >= maxRounds {
		return false
	}
	return true
}
