package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/pipeline"
	"github.com/holdhq/counsel/store"
)

// Pause stops new turns from starting. A turn already in flight still
// completes and is appended.
func (e *Engine) Pause(ctx context.Context, id string) (*model.Session, error) {
	return e.toggle(ctx, id, "pause", model.StatusRunning, model.StatusPaused)
}

// Resume lets a paused session take turns again.
func (e *Engine) Resume(ctx context.Context, id string) (*model.Session, error) {
	return e.toggle(ctx, id, "resume", model.StatusPaused, model.StatusRunning)
}

func (e *Engine) toggle(ctx context.Context, id, op string, from, to model.Status) (*model.Session, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	if ls.ending || ls.sess.Status != from {
		st, ending := ls.sess.Status, ls.ending
		ls.mu.Unlock()
		return nil, &InvalidStateTransitionError{Op: op, Status: st, Ending: ending}
	}
	ls.sess.Status = to
	snap, version := ls.snapshot()
	ls.mu.Unlock()

	e.log.Info("session "+string(to), "session_id", id)
	_ = e.persist(ctx, ls, snap, version)
	e.emitEvent(ctx, id, model.EventStatus, "Session "+string(to))
	return snap.Clone(), nil
}

// AdvancePhase moves a running session to the next HOLD phase. It is a no-op
// once the session is at D.
func (e *Engine) AdvancePhase(ctx context.Context, id string) (*model.Session, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	if ls.ending || ls.sess.Status != model.StatusRunning {
		st, ending := ls.sess.Status, ls.ending
		ls.mu.Unlock()
		return nil, &InvalidStateTransitionError{Op: "advance phase", Status: st, Ending: ending}
	}
	if ls.sess.Phase == model.PhaseDone {
		snap := ls.sess.Clone()
		ls.mu.Unlock()
		return snap, nil
	}
	ls.sess.Phase = ls.sess.Phase.Next()
	phase := ls.sess.Phase
	snap, version := ls.snapshot()
	ls.mu.Unlock()

	e.log.Info("phase advanced", "session_id", id, "phase", phase)
	_ = e.persist(ctx, ls, snap, version)
	e.emitEvent(ctx, id, model.EventPhase, fmt.Sprintf("Phase advanced to %s (%s)", phase, phase.Name()))
	return snap.Clone(), nil
}

// EndSession ends a session and returns its summary. A turn in flight is
// allowed to finish and append first. If ctx is done while waiting, the
// session is left as it was. Ending is idempotent: later calls return the
// same summary without calling the model again.
func (e *Engine) EndSession(ctx context.Context, id string) (*model.Summary, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	if ls.sess.Status != model.StatusEnded {
		ls.ending = true
		ls.endWaiters++
	}
	for ls.inFlight {
		done := ls.turnDone
		ls.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			ls.mu.Lock()
			// The last waiter to give up hands the session back.
			if ls.sess.Status != model.StatusEnded {
				ls.endWaiters--
				if ls.endWaiters <= 0 {
					ls.endWaiters = 0
					ls.ending = false
				}
			}
			ls.mu.Unlock()
			return nil, ctx.Err()
		}
		ls.mu.Lock()
	}

	if ls.sess.Status != model.StatusEnded {
		ls.sess.Status = model.StatusEnded
		ls.ending = false
		ls.endWaiters = 0
		snap, version := ls.snapshot()
		ls.mu.Unlock()

		e.log.Info("session ended", "session_id", id, "messages", len(snap.Messages), "phase", snap.Phase)
		_ = e.persist(ctx, ls, snap, version)
		e.emitEvent(ctx, id, model.EventStatus, "Session ended")
	} else {
		ls.mu.Unlock()
	}

	return e.ensureSummary(ctx, ls)
}

// ensureSummary returns the session's summary, extracting it at most once.
// A summary already in the store is reused.
func (e *Engine) ensureSummary(ctx context.Context, ls *liveSession) (*model.Summary, error) {
	ls.mu.Lock()
	if ls.summary != nil {
		sum := ls.summary
		ls.mu.Unlock()
		return sum, nil
	}
	if done := ls.summaryDone; done != nil {
		ls.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return ls.summary, nil
	}
	done := make(chan struct{})
	ls.summaryDone = done
	snap := ls.sess.Clone()
	ls.mu.Unlock()

	sum, err := e.store.GetSummary(ctx, snap.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("reading stored summary failed", "session_id", snap.ID, "error", err)
		}
		sum = e.extract(ctx, snap)
	}

	ls.mu.Lock()
	ls.summary = sum
	close(done)
	ls.mu.Unlock()
	return sum, nil
}

// extract runs the summary stage and records its output. Storage failures
// are logged; the summary is returned regardless.
func (e *Engine) extract(ctx context.Context, snap *model.Session) *model.Summary {
	sum := e.summary.Summarize(ctx, snap)
	if sum.Degraded {
		e.log.Warn("summary extraction degraded", "session_id", snap.ID)
	} else {
		e.log.Info("summary extracted", "session_id", snap.ID, "decisions", len(sum.Decisions))
	}

	wctx := context.WithoutCancel(ctx)
	if err := e.store.SaveSummary(wctx, sum); err != nil {
		e.log.Warn("saving summary failed", "session_id", snap.ID, "error", err)
	}
	if e.decisions != nil {
		if err := e.decisions.SaveDecisions(wctx, snap.ID, sum.Decisions); err != nil {
			e.log.Warn("saving decisions failed", "session_id", snap.ID, "error", err)
			e.emitEvent(ctx, snap.ID, model.EventWarning, "Decisions could not be written to the decision store")
		}
	}
	note := fmt.Sprintf("Summary ready (%d decisions)", len(sum.Decisions))
	if sum.Degraded {
		note += " [degraded]"
	}
	e.emitEvent(ctx, snap.ID, model.EventSummary, note)
	return sum
}

// Summary returns the summary of an ended session.
func (e *Engine) Summary(ctx context.Context, id string) (*model.Summary, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	st := ls.sess.Status
	ls.mu.Unlock()
	if st != model.StatusEnded {
		return nil, &InvalidStateTransitionError{Op: "get summary", Status: st}
	}
	return e.ensureSummary(ctx, ls)
}

// RegenerateSummary re-runs extraction on an ended session and replaces the
// stored summary. The message log is not touched.
func (e *Engine) RegenerateSummary(ctx context.Context, id string) (*model.Summary, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// Wait for any first extraction so the two never race.
	if _, err := e.Summary(ctx, id); err != nil {
		return nil, err
	}

	ls.mu.Lock()
	snap := ls.sess.Clone()
	ls.mu.Unlock()

	sum := e.extract(ctx, snap)

	ls.mu.Lock()
	ls.summary = sum
	ls.mu.Unlock()
	return sum, nil
}

// ReviseSession opens a revision session for an ended session. The new
// session starts running at phase D with the prior decisions as its first
// message; the ended session is left untouched. Empty option fields are
// inherited from the source session.
func (e *Engine) ReviseSession(ctx context.Context, endedID string, opts StartOptions) (*model.Session, error) {
	source, err := e.GetSession(ctx, endedID)
	if err != nil {
		return nil, err
	}
	if source.Status != model.StatusEnded {
		return nil, &InvalidStateTransitionError{Op: "revise", Status: source.Status}
	}
	sum, err := e.Summary(ctx, endedID)
	if err != nil {
		return nil, err
	}

	seed := pipeline.RevisionSeed(sum)
	if opts.Topic != "" {
		seed += "\n\n" + opts.Topic
	}
	opts.Topic = seed
	opts.Mode = model.ModeRevision
	if len(opts.Participants) == 0 {
		opts.Participants = source.Participants
	}
	if opts.Model == "" {
		opts.Model = source.Model
	}
	if opts.ProjectContext == "" {
		opts.ProjectContext = source.ProjectContext
	}

	sess, err := e.createSession(ctx, opts, model.StatusRunning, model.PhaseDone, source.ID)
	if err != nil {
		return nil, err
	}
	e.emitEvent(ctx, source.ID, model.EventStatus, "Revision session "+sess.ID+" opened")
	return sess, nil
}
