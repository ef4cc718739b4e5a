package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/pipeline"
	"github.com/holdhq/counsel/scheduler"
)

// AdvanceTurn generates and appends the next counselor turn.
//
// The first call on an idle session moves it to running. Only one turn per
// session may be in flight; a concurrent call gets ErrTurnInFlight. The model
// is called without holding the session lock. If the call fails nothing is
// appended, the cursor is untouched and the same turn can be retried.
func (e *Engine) AdvanceTurn(ctx context.Context, id string) (*model.Message, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	if ls.ending || ls.sess.Status == model.StatusEnded {
		st := ls.sess.Status
		ending := ls.ending
		ls.mu.Unlock()
		return nil, &InvalidStateTransitionError{Op: "advance turn", Status: st, Ending: ending}
	}
	if ls.inFlight {
		ls.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	started := false
	if ls.sess.Status == model.StatusIdle {
		ls.sess.Status = model.StatusRunning
		started = true
	}
	if ls.sess.Status != model.StatusRunning {
		st := ls.sess.Status
		ls.mu.Unlock()
		return nil, &InvalidStateTransitionError{Op: "advance turn", Status: st}
	}

	pick := scheduler.Next(ls.sess)
	history := pipeline.RoleTagged(ls.sess.Messages, pick.Speaker)
	req := turnRequest{
		mode:           ls.sess.Mode,
		phase:          ls.sess.Phase,
		model:          ls.sess.Model,
		projectContext: ls.sess.ProjectContext,
		participants:   append([]string(nil), ls.sess.Participants...),
	}
	ls.inFlight = true
	ls.turnDone = make(chan struct{})
	var startSnap *model.Session
	var startVersion uint64
	if started {
		startSnap, startVersion = ls.snapshot()
	}
	ls.mu.Unlock()

	if started {
		_ = e.persist(ctx, ls, startSnap, startVersion)
		e.emitEvent(ctx, id, model.EventStatus, "Session running")
	}

	content, speakerName, err := e.generate(ctx, req, pick, history)

	ls.mu.Lock()
	if err != nil {
		ls.finishTurn()
		ls.mu.Unlock()
		e.log.Warn("turn failed", "session_id", id, "speaker", pick.Participant, "phase", req.phase,
			"retryable", llm.IsRetryable(err), "error", err)
		e.emitEvent(ctx, id, model.EventError, fmt.Sprintf("%s failed to respond: %v", speakerName, err))
		return nil, err
	}

	now := time.Now().UTC()
	msg := model.Message{
		ID:          uuid.New().String(),
		SessionID:   id,
		Seq:         ls.sess.LastSeq() + 1,
		Speaker:     pick.Speaker,
		SpeakerName: speakerName,
		Content:     content,
		Phase:       req.phase,
		Addressed:   pick.AddressesIntervention,
		ContextSeq:  pick.ContextSeq,
		CreatedAt:   now,
	}
	ls.sess.Messages = append(ls.sess.Messages, msg)
	scheduler.Commit(ls.sess, pick)

	var phaseChanged bool
	if n := e.config.TurnsPerPhase; n > 0 && ls.sess.Phase != model.PhaseDone &&
		scheduler.PhaseTurns(ls.sess, ls.sess.Phase) >= n {
		ls.sess.Phase = ls.sess.Phase.Next()
		phaseChanged = true
	}
	round, phase := ls.sess.RoundCount, ls.sess.Phase
	snap, version := ls.snapshot()
	ls.finishTurn()
	ls.mu.Unlock()

	e.log.Info("turn committed", "session_id", id, "seq", msg.Seq, "speaker", speakerName,
		"phase", msg.Phase, "round", round, "addressed_intervention", msg.Addressed)
	_ = e.persist(ctx, ls, snap, version)
	e.emitEvent(ctx, id, model.EventTurn, fmt.Sprintf("%s: %s", speakerName, model.Truncate(content, 280)))
	if phaseChanged {
		e.emitEvent(ctx, id, model.EventPhase, fmt.Sprintf("Phase advanced to %s (%s)", phase, phase.Name()))
	}
	return &msg, nil
}

// finishTurn releases the in-flight marker. The caller must hold ls.mu.
func (ls *liveSession) finishTurn() {
	ls.inFlight = false
	if ls.turnDone != nil {
		close(ls.turnDone)
		ls.turnDone = nil
	}
}

type turnRequest struct {
	mode           model.Mode
	phase          model.Phase
	model          string
	projectContext string
	participants   []string
}

// generate builds the speaker's prompt and makes the single gateway call.
// The returned name is usable even on error.
func (e *Engine) generate(ctx context.Context, req turnRequest, pick scheduler.Pick, history []llm.Turn) (string, string, error) {
	speaker, err := e.personas.GetPersona(ctx, pick.Participant)
	if err != nil {
		return "", pick.Participant, fmt.Errorf("persona %q: %w", pick.Participant, err)
	}

	var peers []string
	for i, id := range req.participants {
		if i == pick.Index {
			continue
		}
		name := id
		if p, err := e.personas.GetPersona(ctx, id); err == nil && p.Name != "" {
			name = p.Name
		}
		peers = append(peers, name)
	}

	system := pipeline.ComposeSystemPrompt(*speaker, pipeline.PromptContext{
		Phase:          req.phase,
		Mode:           req.mode,
		Peers:          peers,
		ProjectContext: req.projectContext,
	})
	modelName := req.model
	if modelName == "" {
		modelName = speaker.Model
	}

	content, err := e.llm.Complete(ctx, system, history, modelName, pick.Intervention)
	if err != nil {
		return "", speaker.Name, err
	}
	return content, speaker.Name, nil
}

// InjectIntervention appends a user message out of turn. The next turn is
// assigned to answer it, together with any other unanswered interventions.
// It is accepted while a turn is in flight.
func (e *Engine) InjectIntervention(ctx context.Context, id, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("intervention text must not be empty")
	}
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	if ls.ending || ls.sess.Status != model.StatusRunning {
		st, ending := ls.sess.Status, ls.ending
		ls.mu.Unlock()
		return nil, &InvalidStateTransitionError{Op: "inject intervention", Status: st, Ending: ending}
	}
	msg := model.Message{
		ID:           uuid.New().String(),
		SessionID:    id,
		Seq:          ls.sess.LastSeq() + 1,
		Speaker:      model.SpeakerUser,
		SpeakerName:  "User",
		Content:      text,
		Phase:        ls.sess.Phase,
		Intervention: true,
		CreatedAt:    time.Now().UTC(),
	}
	ls.sess.Messages = append(ls.sess.Messages, msg)
	pending := len(scheduler.Pending(ls.sess))
	snap, version := ls.snapshot()
	ls.mu.Unlock()

	e.log.Info("intervention injected", "session_id", id, "seq", msg.Seq, "pending", pending)
	_ = e.persist(ctx, ls, snap, version)
	e.emitEvent(ctx, id, model.EventIntervention, model.Truncate(text, 280))
	return &msg, nil
}

// RunDebate advances turns until the debate should stop and returns the
// appended messages.
//
// With maxTurns > 0 at most that many turns run and the round ceiling is not
// applied. Otherwise turns run until the session's round ceiling (or the
// engine default) is reached, or for one rotation when neither is set.
// A paused or ended session is rejected up front; pausing or ending it
// mid-debate stops the loop without error. Retryable gateway
// failures are retried up to Config.TurnRetries times.
func (e *Engine) RunDebate(ctx context.Context, id string, maxTurns int) ([]*model.Message, error) {
	snap, err := e.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Status == model.StatusPaused || snap.Status == model.StatusEnded {
		return nil, &InvalidStateTransitionError{Op: "run debate", Status: snap.Status}
	}
	ceiling := snap.MaxRounds
	if ceiling <= 0 {
		ceiling = e.config.MaxRounds
	}
	if maxTurns > 0 {
		ceiling = 0
	} else if ceiling <= 0 {
		maxTurns = len(snap.Participants)
	}

	var out []*model.Message
	retries := 0
	for {
		if maxTurns > 0 && len(out) >= maxTurns {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		cur, err := e.GetSession(ctx, id)
		if err != nil {
			return out, err
		}
		if !scheduler.ShouldContinue(cur, ceiling) {
			return out, nil
		}

		msg, err := e.AdvanceTurn(ctx, id)
		if err != nil {
			if llm.IsRetryable(err) && retries < e.config.TurnRetries {
				retries++
				e.log.Info("retrying turn", "session_id", id, "attempt", retries, "error", err)
				if !sleepCtx(ctx, e.config.RetryBackoff) {
					return out, ctx.Err()
				}
				continue
			}
			if errors.Is(err, ErrInvalidTransition) {
				// Paused or ended by another caller mid-debate.
				return out, nil
			}
			return out, err
		}
		retries = 0
		out = append(out, msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
