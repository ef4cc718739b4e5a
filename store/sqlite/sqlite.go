// Package sqlite implements the store interfaces using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

// Store manages sessions, messages, summaries, decisions, personas and
// events in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id              TEXT PRIMARY KEY,
			mode            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'idle',
			phase           TEXT NOT NULL DEFAULT 'H',
			participants    TEXT NOT NULL DEFAULT '[]',
			model           TEXT NOT NULL DEFAULT '',
			project_context TEXT NOT NULL DEFAULT '',
			parent_id       TEXT NOT NULL DEFAULT '',
			max_rounds      INTEGER NOT NULL DEFAULT 0,
			turn_cursor     INTEGER NOT NULL DEFAULT 0,
			round_count     INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			session_id   TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			id           TEXT NOT NULL,
			speaker      INTEGER NOT NULL,
			speaker_name TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			phase        TEXT NOT NULL DEFAULT '',
			intervention INTEGER NOT NULL DEFAULT 0,
			addressed    INTEGER NOT NULL DEFAULT 0,
			context_seq  INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS summaries (
			session_id TEXT PRIMARY KEY,
			text       TEXT NOT NULL,
			decisions  TEXT NOT NULL DEFAULT '[]',
			degraded   INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS decisions (
			session_id TEXT NOT NULL,
			position   INTEGER NOT NULL,
			decision   TEXT NOT NULL,
			context    TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (session_id, position)
		);

		CREATE TABLE IF NOT EXISTS personas (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			tone           TEXT NOT NULL DEFAULT '',
			principles     TEXT NOT NULL DEFAULT '[]',
			biases         TEXT NOT NULL DEFAULT '[]',
			objectives     TEXT NOT NULL DEFAULT '[]',
			instructions   TEXT NOT NULL DEFAULT '',
			risk_tolerance TEXT NOT NULL DEFAULT '',
			model          TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS session_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_id
			ON session_events(session_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession upserts the session row and inserts any messages the database
// does not hold yet. Existing messages are never rewritten.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, status, phase, participants, model, project_context,
		                       parent_id, max_rounds, turn_cursor, round_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			turn_cursor = excluded.turn_cursor,
			round_count = excluded.round_count,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Mode, sess.Status, sess.Phase, string(participants), sess.Model,
		sess.ProjectContext, sess.ParentID, sess.MaxRounds, sess.TurnCursor, sess.RoundCount,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO messages (session_id, seq, id, speaker, speaker_name, content, phase,
		                                  intervention, addressed, context_seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range sess.Messages {
		if _, err := stmt.ExecContext(ctx,
			sess.ID, m.Seq, m.ID, m.Speaker, m.SpeakerName, m.Content, m.Phase,
			m.Intervention, m.Addressed, m.ContextSeq, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting message %d: %w", m.Seq, err)
		}
	}
	return tx.Commit()
}

const sessionColumns = `id, mode, status, phase, participants, model, project_context,
	parent_id, max_rounds, turn_cursor, round_count, created_at, updated_at`

// GetSession retrieves a session and its full message log ordered by seq.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.getMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

// ListSessions returns all sessions ordered by creation time (newest first).
func (s *Store) ListSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) getMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, id, speaker, speaker_name, content, phase,
		        intervention, addressed, context_seq, created_at
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.ID, &m.Speaker, &m.SpeakerName, &m.Content,
			&m.Phase, &m.Intervention, &m.Addressed, &m.ContextSeq, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveSummary inserts or replaces the summary of a session.
func (s *Store) SaveSummary(ctx context.Context, sum *model.Summary) error {
	decisions, err := json.Marshal(sum.Decisions)
	if err != nil {
		return fmt.Errorf("encoding decisions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (session_id, text, decisions, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			text = excluded.text,
			decisions = excluded.decisions,
			degraded = excluded.degraded,
			created_at = excluded.created_at`,
		sum.SessionID, sum.Text, string(decisions), sum.Degraded, sum.CreatedAt,
	)
	return err
}

// GetSummary returns the stored summary of a session.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*model.Summary, error) {
	sum := &model.Summary{}
	var decisions string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, text, decisions, degraded, created_at FROM summaries WHERE session_id = ?`,
		sessionID,
	).Scan(&sum.SessionID, &sum.Text, &decisions, &sum.Degraded, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(decisions), &sum.Decisions); err != nil {
		return nil, fmt.Errorf("decoding decisions: %w", err)
	}
	return sum, nil
}

// SaveDecisions replaces the decisions recorded for a session.
func (s *Store) SaveDecisions(ctx context.Context, sessionID string, decisions []model.Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, d := range decisions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (session_id, position, decision, context, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, i, d.Text, d.Context, d.Status, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetDecisions returns the decisions recorded for a session in extraction order.
func (s *Store) GetDecisions(ctx context.Context, sessionID string) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, context, status FROM decisions WHERE session_id = ? ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(&d.Text, &d.Context, &d.Status); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Personas ---

// UpsertPersona inserts or replaces a persona record.
func (s *Store) UpsertPersona(ctx context.Context, p *model.Persona) error {
	principles, _ := json.Marshal(p.Principles)
	biases, _ := json.Marshal(p.Biases)
	objectives, _ := json.Marshal(p.Objectives)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (id, name, tone, principles, biases, objectives, instructions, risk_tolerance, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tone = excluded.tone,
			principles = excluded.principles,
			biases = excluded.biases,
			objectives = excluded.objectives,
			instructions = excluded.instructions,
			risk_tolerance = excluded.risk_tolerance,
			model = excluded.model`,
		p.ID, p.Name, p.Tone, string(principles), string(biases), string(objectives),
		p.Instructions, p.RiskTolerance, p.Model,
	)
	return err
}

const personaColumns = `id, name, tone, principles, biases, objectives, instructions, risk_tolerance, model`

// GetPersona retrieves a persona by ID.
func (s *Store) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

// ListPersonas returns all personas ordered by name.
func (s *Store) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Events ---

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(ctx context.Context, event *model.Event) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.SessionID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a session, optionally after a given event ID.
func (s *Store) GetEvents(ctx context.Context, sessionID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, type, data, created_at
		 FROM session_events
		 WHERE session_id = ? AND id > ?
		 ORDER BY id ASC`,
		sessionID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	sess := &model.Session{}
	var participants string
	err := row.Scan(
		&sess.ID, &sess.Mode, &sess.Status, &sess.Phase, &participants, &sess.Model,
		&sess.ProjectContext, &sess.ParentID, &sess.MaxRounds, &sess.TurnCursor, &sess.RoundCount,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &sess.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	return sess, nil
}

func scanPersona(row scannable) (*model.Persona, error) {
	p := &model.Persona{}
	var principles, biases, objectives string
	if err := row.Scan(&p.ID, &p.Name, &p.Tone, &principles, &biases, &objectives,
		&p.Instructions, &p.RiskTolerance, &p.Model); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{principles, &p.Principles}, {biases, &p.Biases}, {objectives, &p.Objectives}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decoding persona %s: %w", p.ID, err)
		}
	}
	return p, nil
}

var (
	_ store.SessionStore  = (*Store)(nil)
	_ store.PersonaStore  = (*Store)(nil)
	_ store.DecisionStore = (*Store)(nil)
)
