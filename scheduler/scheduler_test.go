package scheduler

import (
	"testing"

	"github.com/holdhq/counsel/model"
)

func newSession(participants ...string) *model.Session {
	return &model.Session{
		ID:           "s1",
		Mode:         model.ModeMesa,
		Status:       model.StatusRunning,
		Phase:        model.PhaseHear,
		Participants: participants,
		Messages: []model.Message{
			{Seq: 1, Speaker: model.SpeakerUser, Content: "topic"},
		},
	}
}

// appendTurn simulates what the engine does after a successful completion.
func appendTurn(sess *model.Session) Pick {
	pick := Next(sess)
	sess.Messages = append(sess.Messages, model.Message{
		Seq:        sess.LastSeq() + 1,
		Speaker:    pick.Speaker,
		Content:    "reply",
		Addressed:  pick.AddressesIntervention,
		ContextSeq: pick.ContextSeq,
		Phase:      sess.Phase,
	})
	Commit(sess, pick)
	return pick
}

func intervene(sess *model.Session, text string) {
	sess.Messages = append(sess.Messages, model.Message{
		Seq:          sess.LastSeq() + 1,
		Speaker:      model.SpeakerUser,
		Content:      text,
		Intervention: true,
	})
}

func TestSoloAlwaysPicksOnlyParticipant(t *testing.T) {
	sess := newSession("pragmatist")
	sess.Mode = model.ModeSolo
	for i := 0; i < 4; i++ {
		pick := appendTurn(sess)
		if pick.Speaker != 1 || pick.Participant != "pragmatist" {
			t.Fatalf("turn %d: got speaker %d (%s)", i, pick.Speaker, pick.Participant)
		}
	}
}

func TestRotationFairness(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = string(rune('a' + i))
		}
		sess := newSession(parts...)
		const k = 4
		counts := make(map[int]int)
		for i := 0; i < k*n; i++ {
			pick := appendTurn(sess)
			if want := i%n + 1; pick.Speaker != want {
				t.Fatalf("n=%d turn %d: speaker %d, want %d", n, i, pick.Speaker, want)
			}
			counts[pick.Speaker]++
		}
		for s := 1; s <= n; s++ {
			if counts[s] != k {
				t.Fatalf("n=%d: speaker %d spoke %d times, want %d", n, s, counts[s], k)
			}
		}
		if sess.RoundCount != k {
			t.Fatalf("n=%d: round count %d, want %d", n, sess.RoundCount, k)
		}
	}
}

func TestInterventionDoesNotConsumeSlot(t *testing.T) {
	sess := newSession("a", "b")
	appendTurn(sess) // a

	intervene(sess, "what about cost?")
	pick := Next(sess)
	if !pick.AddressesIntervention {
		t.Fatal("expected pick to address intervention")
	}
	if pick.Speaker != 2 {
		t.Fatalf("expected soonest speaker 2 to answer, got %d", pick.Speaker)
	}
	if pick.Intervention != "what about cost?" {
		t.Fatalf("unexpected intervention text %q", pick.Intervention)
	}
	appendTurn(sess) // b answers, slot kept

	if sess.TurnCursor != 1 {
		t.Fatalf("expected cursor to stay at 1, got %d", sess.TurnCursor)
	}
	if HasPending(sess) {
		t.Fatal("intervention should be resolved")
	}
	next := appendTurn(sess)
	if next.Speaker != 2 || next.AddressesIntervention {
		t.Fatalf("expected regular turn by 2, got %+v", next)
	}
	if sess.RoundCount != 1 {
		t.Fatalf("expected round 1, got %d", sess.RoundCount)
	}
}

func TestMultipleInterventionsConcatenated(t *testing.T) {
	sess := newSession("a", "b")
	intervene(sess, "first")
	intervene(sess, "second")

	pick := Next(sess)
	if pick.Intervention != "first\n\nsecond" {
		t.Fatalf("unexpected concatenation %q", pick.Intervention)
	}
}

func TestInterventionDuringInFlightTurnStaysPending(t *testing.T) {
	sess := newSession("a", "b")
	pick := Next(sess) // snapshot taken, call in flight
	intervene(sess, "late")

	sess.Messages = append(sess.Messages, model.Message{
		Seq:        sess.LastSeq() + 1,
		Speaker:    pick.Speaker,
		ContextSeq: pick.ContextSeq,
	})
	Commit(sess, pick)

	pending := Pending(sess)
	if len(pending) != 1 || pending[0].Content != "late" {
		t.Fatalf("expected late intervention pending, got %+v", pending)
	}
}

func TestRebuildFromLog(t *testing.T) {
	sess := newSession("a", "b")
	sess.Messages = append(sess.Messages,
		model.Message{Seq: 2, Speaker: 1},
		model.Message{Seq: 3, Speaker: 2},
	)
	sess.TurnCursor = 1 // stale
	sess.RoundCount = 7 // stale

	Rebuild(sess)
	if sess.TurnCursor != 0 || sess.RoundCount != 1 {
		t.Fatalf("got cursor=%d round=%d, want 0/1", sess.TurnCursor, sess.RoundCount)
	}
	if pick := Next(sess); pick.Speaker != 1 {
		t.Fatalf("expected participant 1 next, got %d", pick.Speaker)
	}
}

func TestRebuildSkipsAddressedTurns(t *testing.T) {
	sess := newSession("a", "b")
	appendTurn(sess)
	intervene(sess, "x")
	appendTurn(sess)
	appendTurn(sess)

	want := *sess
	Rebuild(sess)
	if sess.TurnCursor != want.TurnCursor || sess.RoundCount != want.RoundCount {
		t.Fatalf("rebuild diverged: got %d/%d want %d/%d",
			sess.TurnCursor, sess.RoundCount, want.TurnCursor, want.RoundCount)
	}
}

func TestShouldContinue(t *testing.T) {
	sess := newSession("a", "b")
	if !ShouldContinue(sess, 1) {
		t.Fatal("expected continue at round 0")
	}
	appendTurn(sess)
	appendTurn(sess)
	if ShouldContinue(sess, 1) {
		t.Fatal("expected stop at ceiling")
	}
	if !ShouldContinue(sess, 0) {
		t.Fatal("expected no ceiling when maxRounds is 0")
	}
	intervene(sess, "one more thing")
	if !ShouldContinue(sess, 1) {
		t.Fatal("pending intervention should continue past ceiling")
	}
	sess.Status = model.StatusPaused
	if ShouldContinue(sess, 0) {
		t.Fatal("paused session should not continue")
	}
	sess.Status = model.StatusEnded
	if ShouldContinue(sess, 0) {
		t.Fatal("ended session should not continue")
	}
}

func TestPhaseTurns(t *testing.T) {
	sess := newSession("a", "b")
	appendTurn(sess)
	sess.Phase = model.PhaseOpen
	appendTurn(sess)
	appendTurn(sess)
	if got := PhaseTurns(sess, model.PhaseHear); got != 1 {
		t.Fatalf("H turns = %d, want 1", got)
	}
	if got := PhaseTurns(sess, model.PhaseOpen); got != 2 {
		t.Fatalf("O turns = %d, want 2", got)
	}
}

func TestNextEmptyParticipants(t *testing.T) {
	sess := &model.Session{}
	if pick := Next(sess); pick.Speaker != 0 {
		t.Fatalf("expected zero pick, got %+v", pick)
	}
}
