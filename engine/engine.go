// Package engine provides the session orchestration logic for counsel.
// It depends only on interfaces (store, eventbus, llm) and the pure
// scheduler and pipeline packages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/holdhq/counsel/eventbus"
	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/pipeline"
	"github.com/holdhq/counsel/scheduler"
	"github.com/holdhq/counsel/store"
)

// Config holds engine-specific configuration.
type Config struct {
	// MaxRounds is the round ceiling for sessions that do not set their own.
	// 0 means no ceiling.
	MaxRounds int
	// TurnsPerPhase advances the phase automatically after that many counselor
	// turns in the current phase. 0 leaves phase changes to AdvancePhase.
	TurnsPerPhase int
	// TurnRetries is how many times RunDebate retries a retryable gateway failure.
	TurnRetries int
	// RetryBackoff is the pause between those retries.
	RetryBackoff time.Duration
}

// Engine orchestrates counsel session lifecycle. All session mutations go
// through it; every session has its own lock and sessions never share state.
type Engine struct {
	config    Config
	store     store.SessionStore
	personas  store.PersonaStore
	decisions store.DecisionStore
	bus       eventbus.Bus
	llm       llm.Completer
	summary   *pipeline.SummaryStage
	log       *slog.Logger

	mu    sync.Mutex
	live  map[string]*liveSession
	loads singleflight.Group
}

// liveSession is the in-memory owner of one session.
type liveSession struct {
	mu       sync.Mutex
	sess     *model.Session
	version  uint64 // bumped on every mutation
	inFlight bool
	turnDone chan struct{} // closed when the in-flight turn resolves
	ending   bool
	// endWaiters counts EndSession calls waiting on the in-flight turn.
	endWaiters int

	summary     *model.Summary
	summaryDone chan struct{} // non-nil once extraction has started

	saveMu       sync.Mutex
	savedVersion uint64
	dirty        bool
}

// New creates a new Engine with all dependencies. decisions and logger may be nil.
func New(
	cfg Config,
	st store.SessionStore,
	personas store.PersonaStore,
	decisions store.DecisionStore,
	bus eventbus.Bus,
	gateway llm.Completer,
	summary *pipeline.SummaryStage,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if summary == nil {
		summary = pipeline.NewSummaryStage(gateway, "", "")
	}
	return &Engine{
		config:    cfg,
		store:     st,
		personas:  personas,
		decisions: decisions,
		bus:       bus,
		llm:       gateway,
		summary:   summary,
		log:       logger,
		live:      make(map[string]*liveSession),
	}
}

// Store returns the session store.
func (e *Engine) Store() store.SessionStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Personas returns the persona store.
func (e *Engine) Personas() store.PersonaStore { return e.personas }

// StartOptions is the per-session configuration given at start.
type StartOptions struct {
	Mode         model.Mode
	Participants []string
	// Topic becomes the first user message when non-empty.
	Topic          string
	Model          string
	ProjectContext string
	// MaxRounds overrides Config.MaxRounds for this session when > 0.
	MaxRounds int
}

// StartSession creates a session in idle status at phase H.
func (e *Engine) StartSession(ctx context.Context, opts StartOptions) (*model.Session, error) {
	if opts.Mode == model.ModeRevision {
		return nil, fmt.Errorf("revision sessions are created with ReviseSession")
	}
	return e.createSession(ctx, opts, model.StatusIdle, model.PhaseHear, "")
}

func (e *Engine) createSession(ctx context.Context, opts StartOptions, status model.Status, phase model.Phase, parentID string) (*model.Session, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	participants := make([]string, 0, len(opts.Participants))
	for _, p := range opts.Participants {
		participants = append(participants, strings.ToLower(strings.TrimSpace(p)))
	}
	if err := model.ValidateParticipants(opts.Mode, participants); err != nil {
		return nil, err
	}
	for _, p := range participants {
		if _, err := e.personas.GetPersona(ctx, p); err != nil {
			return nil, fmt.Errorf("persona %q: %w", p, err)
		}
	}
	if opts.MaxRounds < 0 {
		return nil, fmt.Errorf("max rounds must not be negative")
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:             uuid.New().String()[:8],
		Mode:           opts.Mode,
		Status:         status,
		Phase:          phase,
		Participants:   participants,
		Model:          opts.Model,
		ProjectContext: opts.ProjectContext,
		ParentID:       parentID,
		MaxRounds:      opts.MaxRounds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if topic := strings.TrimSpace(opts.Topic); topic != "" {
		sess.Messages = append(sess.Messages, model.Message{
			ID:          uuid.New().String(),
			SessionID:   sess.ID,
			Seq:         1,
			Speaker:     model.SpeakerUser,
			SpeakerName: "User",
			Content:     topic,
			Phase:       phase,
			CreatedAt:   now,
		})
	}

	ls := &liveSession{sess: sess, version: 1}
	e.mu.Lock()
	e.live[sess.ID] = ls
	e.mu.Unlock()

	e.log.Info("session started", "session_id", sess.ID, "mode", sess.Mode, "participants", strings.Join(participants, ","))
	_ = e.persist(ctx, ls, sess.Clone(), ls.version)
	e.emitEvent(ctx, sess.ID, model.EventStatus, fmt.Sprintf("Session created (%s, %s)", sess.Mode, sess.Status))
	return sess.Clone(), nil
}

// GetSession returns a snapshot of a session including its messages.
func (e *Engine) GetSession(ctx context.Context, id string) (*model.Session, error) {
	ls, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sess.Clone(), nil
}

// Messages returns the message log of a session.
func (e *Engine) Messages(ctx context.Context, id string) ([]model.Message, error) {
	sess, err := e.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// ListSessions returns stored sessions newest first. Sessions held in memory
// report their live status, which may be ahead of the store.
func (e *Engine) ListSessions(ctx context.Context) ([]*model.Session, error) {
	list, err := e.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range list {
		ls, ok := e.live[s.ID]
		if !ok {
			continue
		}
		ls.mu.Lock()
		c := ls.sess.Clone()
		ls.mu.Unlock()
		c.Messages = nil
		list[i] = c
	}
	return list, nil
}

// load returns the live session for id, reading it from the store on first
// use. Cursor and round are rebuilt from the log; stored counters are ignored.
func (e *Engine) load(ctx context.Context, id string) (*liveSession, error) {
	e.mu.Lock()
	if ls, ok := e.live[id]; ok {
		e.mu.Unlock()
		return ls, nil
	}
	e.mu.Unlock()

	v, err, _ := e.loads.Do(id, func() (any, error) {
		sess, err := e.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		scheduler.Rebuild(sess)

		e.mu.Lock()
		defer e.mu.Unlock()
		if ls, ok := e.live[id]; ok {
			return ls, nil
		}
		ls := &liveSession{sess: sess, version: 1, savedVersion: 1}
		e.live[id] = ls
		return ls, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return v.(*liveSession), nil
}

// persist writes snap to the store. Saves of one session are serialized and a
// snapshot older than one already saved is skipped. Failures are logged,
// published as a warning event and returned; callers on the turn path ignore
// the error.
func (e *Engine) persist(ctx context.Context, ls *liveSession, snap *model.Session, version uint64) error {
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	if version < ls.savedVersion {
		return nil
	}
	if err := e.store.SaveSession(context.WithoutCancel(ctx), snap); err != nil {
		ls.dirty = true
		e.log.Warn("session save failed", "session_id", snap.ID, "error", err)
		e.emitEvent(ctx, snap.ID, model.EventWarning, "Save failed; the session continues in memory")
		return &PersistenceWriteError{SessionID: snap.ID, Err: err}
	}
	if ls.dirty {
		e.log.Info("session save recovered", "session_id", snap.ID)
	}
	ls.savedVersion = version
	ls.dirty = false
	return nil
}

// snapshot bumps the version and returns a copy for persisting.
// The caller must hold ls.mu.
func (ls *liveSession) snapshot() (*model.Session, uint64) {
	ls.version++
	ls.sess.UpdatedAt = time.Now().UTC()
	return ls.sess.Clone(), ls.version
}

func (e *Engine) emitEvent(ctx context.Context, sessionID, eventType, data string) {
	event := &model.Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddEvent(context.WithoutCancel(ctx), event); err != nil {
		e.log.Warn("storing event failed", "session_id", sessionID, "type", eventType, "error", err)
	}
	if e.bus != nil {
		e.bus.Publish(sessionID, event)
	}
}

// Flush saves the current in-memory state of a session and returns the
// store error, if any. It reconciles a session after a failed save.
func (e *Engine) Flush(ctx context.Context, id string) error {
	ls, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	snap, version := ls.snapshot()
	ls.mu.Unlock()
	return e.persist(ctx, ls, snap, version)
}

// Dirty reports whether the last save of a session failed.
func (e *Engine) Dirty(id string) bool {
	e.mu.Lock()
	ls, ok := e.live[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()
	return ls.dirty
}

// FlushDirty retries the save of every in-memory session whose last save
// failed. It returns the combined store errors.
func (e *Engine) FlushDirty(ctx context.Context) error {
	e.mu.Lock()
	var ids []string
	for id, ls := range e.live {
		ls.saveMu.Lock()
		if ls.dirty {
			ids = append(ids, id)
		}
		ls.saveMu.Unlock()
	}
	e.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := e.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
