// Package redis implements the session and decision stores on Redis.
//
// Each session is one JSON snapshot under "counsel:session:<id>". Sessions are
// indexed in a sorted set by creation time, events are a list per session and
// summaries and decisions are JSON values.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

const (
	keyPrefix    = "counsel:"
	sessionIndex = keyPrefix + "sessions"
	eventSeqKey  = keyPrefix + "events:seq"
)

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL expires session keys after the last write. 0 keeps them forever.
	TTL time.Duration
}

// Store implements store.SessionStore and store.DecisionStore.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return NewFromClient(client, opts.TTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(id string) string   { return keyPrefix + "session:" + id }
func summaryKey(id string) string   { return keyPrefix + "summary:" + id }
func decisionsKey(id string) string { return keyPrefix + "decisions:" + id }
func eventsKey(id string) string    { return keyPrefix + "events:" + id }

// SaveSession merges the snapshot into the stored one inside a WATCH
// transaction. Messages already stored win over the incoming copy.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	key := sessionKey(sess.ID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		next := sess.Clone()

		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored model.Session
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return fmt.Errorf("decoding stored session: %w", err)
			}
			next.Messages = mergeMessages(stored.Messages, next.Messages)
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, sessionIndex, redis.Z{Score: float64(sess.CreatedAt.UnixNano()), Member: sess.ID})
			return nil
		})
		return err
	}, key)
}

func mergeMessages(stored, incoming []model.Message) []model.Message {
	held := make(map[int]bool, len(stored))
	for _, m := range stored {
		held[m.Seq] = true
	}
	out := append([]model.Message(nil), stored...)
	for _, m := range incoming {
		if !held[m.Seq] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	val, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions implements store.SessionStore. Index entries whose snapshot
// has expired are pruned.
func (s *Store) ListSessions(ctx context.Context) ([]*model.Session, error) {
	ids, err := s.client.ZRevRange(ctx, sessionIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []*model.Session
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.client.ZRem(ctx, sessionIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sess.Messages = nil
		out = append(out, sess)
	}
	return out, nil
}

// SaveSummary implements store.SessionStore.
func (s *Store) SaveSummary(ctx context.Context, sum *model.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, summaryKey(sum.SessionID), data, s.ttl).Err()
}

// GetSummary implements store.SessionStore.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (*model.Summary, error) {
	val, err := s.client.Get(ctx, summaryKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sum model.Summary
	if err := json.Unmarshal([]byte(val), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// SaveDecisions implements store.DecisionStore.
func (s *Store) SaveDecisions(ctx context.Context, sessionID string, decisions []model.Decision) error {
	data, err := json.Marshal(decisions)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, decisionsKey(sessionID), data, s.ttl).Err()
}

// GetDecisions returns the decisions stored for a session.
func (s *Store) GetDecisions(ctx context.Context, sessionID string) ([]model.Decision, error) {
	val, err := s.client.Get(ctx, decisionsKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.Decision
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddEvent implements store.SessionStore. IDs come from a global counter so
// they increase across sessions like the SQL drivers'.
func (s *Store) AddEvent(ctx context.Context, event *model.Event) error {
	id, err := s.client.Incr(ctx, eventSeqKey).Result()
	if err != nil {
		return err
	}
	event.ID = id
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := eventsKey(event.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

// GetEvents implements store.SessionStore.
func (s *Store) GetEvents(ctx context.Context, sessionID string, afterID int64) ([]*model.Event, error) {
	vals, err := s.client.LRange(ctx, eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []*model.Event
	for _, v := range vals {
		e := &model.Event{}
		if err := json.Unmarshal([]byte(v), e); err != nil {
			return nil, err
		}
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close implements store.SessionStore.
func (s *Store) Close() error {
	return s.client.Close()
}

var (
	_ store.SessionStore  = (*Store)(nil)
	_ store.DecisionStore = (*Store)(nil)
)
