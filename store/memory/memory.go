// Package memory implements the store interfaces in process memory. Data is
// lost when the process exits; it backs tests and `--store memory` runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

// Store keeps deep copies of everything it is given.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	summaries map[string]*model.Summary
	decisions map[string][]model.Decision
	personas  map[string]*model.Persona
	events    map[string][]*model.Event
	nextEvent int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]*model.Session),
		summaries: make(map[string]*model.Summary),
		decisions: make(map[string][]model.Decision),
		personas:  make(map[string]*model.Persona),
		events:    make(map[string][]*model.Event),
	}
}

// SaveSession implements store.SessionStore. Messages already held keep
// their stored content.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := sess.Clone()
	if prev, ok := s.sessions[sess.ID]; ok {
		held := make(map[int]bool, len(prev.Messages))
		for _, m := range prev.Messages {
			held[m.Seq] = true
		}
		merged := append([]model.Message(nil), prev.Messages...)
		for _, m := range next.Messages {
			if !held[m.Seq] {
				merged = append(merged, m)
			}
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })
		next.Messages = merged
	}
	s.sessions[sess.ID] = next
	return nil
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sess.Clone(), nil
}

// ListSessions implements store.SessionStore.
func (s *Store) ListSessions(ctx context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		c := sess.Clone()
		c.Messages = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveSummary implements store.SessionStore.
func (s *Store) SaveSummary(ctx context.Context, sum *model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *sum
	c.Decisions = append([]model.Decision(nil), sum.Decisions...)
	s.summaries[sum.SessionID] = &c
	return nil
}

// GetSummary implements store.SessionStore.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, ok := s.summaries[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *sum
	c.Decisions = append([]model.Decision(nil), sum.Decisions...)
	return &c, nil
}

// SaveDecisions implements store.DecisionStore.
func (s *Store) SaveDecisions(ctx context.Context, sessionID string, decisions []model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions[sessionID] = append([]model.Decision(nil), decisions...)
	return nil
}

// Decisions returns what SaveDecisions last stored for a session.
func (s *Store) Decisions(sessionID string) []model.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Decision(nil), s.decisions[sessionID]...)
}

// PutPersona adds or replaces a persona.
func (s *Store) PutPersona(p *model.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.personas[p.ID] = &c
}

// GetPersona implements store.PersonaStore.
func (s *Store) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

// ListPersonas implements store.PersonaStore.
func (s *Store) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddEvent implements store.SessionStore.
func (s *Store) AddEvent(ctx context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvent++
	event.ID = s.nextEvent
	c := *event
	s.events[event.SessionID] = append(s.events[event.SessionID], &c)
	return nil
}

// GetEvents implements store.SessionStore.
func (s *Store) GetEvents(ctx context.Context, sessionID string, afterID int64) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Event
	for _, e := range s.events[sessionID] {
		if e.ID > afterID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// Close implements store.SessionStore.
func (s *Store) Close() error { return nil }

var (
	_ store.SessionStore  = (*Store)(nil)
	_ store.PersonaStore  = (*Store)(nil)
	_ store.DecisionStore = (*Store)(nil)
)
