// Package store defines the persistence collaborators of the engine.
// Drivers live in subpackages: sqlite, redis, memory and supabase.
package store

import (
	"context"
	"errors"

	"github.com/holdhq/counsel/model"
)

// ErrNotFound is returned when a session, summary or persona does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionStore persists session snapshots, summaries and events.
//
// SaveSession is an idempotent upsert of the whole snapshot: saving the same
// session twice leaves the store unchanged. Messages are append-only, so a
// driver may skip messages it already holds.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// ListSessions returns sessions newest first, without messages.
	ListSessions(ctx context.Context) ([]*model.Session, error)

	SaveSummary(ctx context.Context, sum *model.Summary) error
	GetSummary(ctx context.Context, sessionID string) (*model.Summary, error)

	AddEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, sessionID string, afterID int64) ([]*model.Event, error)

	Close() error
}

// PersonaStore supplies counselor profiles. It is read-only to the engine.
type PersonaStore interface {
	GetPersona(ctx context.Context, id string) (*model.Persona, error)
	ListPersonas(ctx context.Context) ([]*model.Persona, error)
}

// DecisionStore receives the decisions extracted when a session ends.
// SaveDecisions replaces any decisions previously written for the session.
type DecisionStore interface {
	SaveDecisions(ctx context.Context, sessionID string, decisions []model.Decision) error
}
