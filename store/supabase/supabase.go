// Package supabase implements the persona and decision stores on a Supabase
// (PostgREST) project.
//
// Expected tables:
//
//	personas(id text primary key, name text, tone text, principles jsonb, biases jsonb,
//	         objectives jsonb, instructions text, risk_tolerance text, model text)
//	decisions(session_id text, position int, decision text, context text, status text)
package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

// Config holds Supabase connection configuration.
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// Client implements store.PersonaStore and store.DecisionStore.
type Client struct {
	client   *supabase.Client
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	persona   *model.Persona
	expiresAt time.Time
}

// New creates a new Supabase-backed store.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		cache:    make(map[string]cacheEntry),
	}, nil
}

type personaRow struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Tone          string   `json:"tone"`
	Principles    []string `json:"principles"`
	Biases        []string `json:"biases"`
	Objectives    []string `json:"objectives"`
	Instructions  string   `json:"instructions"`
	RiskTolerance string   `json:"risk_tolerance"`
	Model         string   `json:"model"`
}

func (r personaRow) persona() *model.Persona {
	return &model.Persona{
		ID:            r.ID,
		Name:          r.Name,
		Tone:          r.Tone,
		Principles:    r.Principles,
		Biases:        r.Biases,
		Objectives:    r.Objectives,
		Instructions:  r.Instructions,
		RiskTolerance: r.RiskTolerance,
		Model:         r.Model,
	}
}

// GetPersona retrieves a persona by ID, served from cache while fresh.
func (c *Client) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	if p := c.cached(id); p != nil {
		return p, nil
	}

	var rows []personaRow
	_, err := c.client.From("personas").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}

	p := rows[0].persona()
	c.remember(p)
	return p, nil
}

// ListPersonas returns every persona and refreshes the cache.
func (c *Client) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	var rows []personaRow
	_, err := c.client.From("personas").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	out := make([]*model.Persona, 0, len(rows))
	for _, r := range rows {
		p := r.persona()
		c.remember(p)
		out = append(out, p)
	}
	return out, nil
}

type decisionRow struct {
	SessionID string `json:"session_id"`
	Position  int    `json:"position"`
	Decision  string `json:"decision"`
	Context   string `json:"context"`
	Status    string `json:"status"`
}

// SaveDecisions replaces the decisions stored for a session.
func (c *Client) SaveDecisions(ctx context.Context, sessionID string, decisions []model.Decision) error {
	if _, _, err := c.client.From("decisions").
		Delete("minimal", "").
		Eq("session_id", sessionID).
		Execute(); err != nil {
		return fmt.Errorf("failed to clear decisions: %w", err)
	}
	if len(decisions) == 0 {
		return nil
	}
	rows := decisionRows(sessionID, decisions)
	if _, _, err := c.client.From("decisions").
		Insert(rows, false, "", "minimal", "").
		Execute(); err != nil {
		return fmt.Errorf("failed to insert decisions: %w", err)
	}
	return nil
}

func decisionRows(sessionID string, decisions []model.Decision) []decisionRow {
	rows := make([]decisionRow, 0, len(decisions))
	for i, d := range decisions {
		rows = append(rows, decisionRow{
			SessionID: sessionID,
			Position:  i,
			Decision:  d.Text,
			Context:   d.Context,
			Status:    string(d.Status),
		})
	}
	return rows
}

func (c *Client) cached(id string) *model.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil
	}
	cp := *e.persona
	return &cp
}

func (c *Client) remember(p *model.Persona) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.cache[p.ID] = cacheEntry{persona: &cp, expiresAt: time.Now().Add(c.cacheTTL)}
}

var (
	_ store.PersonaStore  = (*Client)(nil)
	_ store.DecisionStore = (*Client)(nil)
)
