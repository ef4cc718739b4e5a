// End-to-end tests for the counsel server stack.
//
// These exercise the application as the Builder assembles it:
//   - Real HTTP router (chi)
//   - Real SQLite store (WAL mode, temp dir)
//   - Real event bus, persona catalog and completion gateway
//   - Fake provider client (deterministic responses)
//
// Only the model provider is simulated. No API keys or network access needed.
package counsel_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holdhq/counsel"
	"github.com/holdhq/counsel/engine"
	"github.com/holdhq/counsel/internal/logging"
	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/model"
	sqliteStore "github.com/holdhq/counsel/store/sqlite"
)

// fakeProvider plays every counselor and the decision extractor.
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if strings.Contains(req.System, `"decisions"`) {
		return `{"summary":"Hold the raise until revenue doubles.","decisions":[{"decision":"Delay the seed round","context":"runway is 14 months","status":"taken"},{"decision":"Revisit pricing","context":"","status":"pending"}]}`, nil
	}
	return fmt.Sprintf("Point %d.", len(f.requests)), nil
}

func (f *fakeProvider) all() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func (f *fakeProvider) summaryCalls() int {
	n := 0
	for _, r := range f.all() {
		if strings.Contains(r.System, `"decisions"`) {
			n++
		}
	}
	return n
}

func newApp(t *testing.T, dataDir string, provider llm.Client) (*counsel.App, *httptest.Server) {
	t.Helper()
	app, err := counsel.NewBuilder().
		WithConfig(counsel.Config{
			DataDir:  dataDir,
			LLMModel: "test-model",
			Engine:   engine.Config{MaxRounds: 1},
		}).
		WithLLM(provider).
		WithLogger(logging.Nop()).
		Build()
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	return app, srv
}

func post(t *testing.T, srv *httptest.Server, path, body string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: expected %d, got %d", path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("POST %s: decode: %v", path, err)
		}
	}
}

func get(t *testing.T, srv *httptest.Server, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected %d, got %d", path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
}

func TestE2E_MesaSessionLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	provider := &fakeProvider{}
	app, srv := newApp(t, dataDir, provider)

	var sess model.Session
	post(t, srv, "/api/sessions",
		`{"participants":["pragmatist","skeptic"],"topic":"Should we raise a seed round now?"}`,
		http.StatusCreated, &sess)
	if sess.Mode != model.ModeMesa || sess.Status != model.StatusIdle || sess.Phase != model.PhaseHear {
		t.Fatalf("unexpected new session: %s %s %s", sess.Mode, sess.Status, sess.Phase)
	}

	// One rotation with a ceiling of one round.
	var debate struct {
		Messages []*model.Message `json:"messages"`
		Error    string           `json:"error"`
	}
	post(t, srv, "/api/sessions/"+sess.ID+"/debate", `{}`, http.StatusOK, &debate)
	if len(debate.Messages) != 2 || debate.Error != "" {
		t.Fatalf("expected 2 turns and no error, got %d (%q)", len(debate.Messages), debate.Error)
	}
	if debate.Messages[0].SpeakerName != "Pragmatist" || debate.Messages[1].SpeakerName != "Skeptic" {
		t.Fatalf("unexpected speakers: %s, %s", debate.Messages[0].SpeakerName, debate.Messages[1].SpeakerName)
	}
	for _, r := range provider.all() {
		if r.Model != "test-model" {
			t.Fatalf("gateway should default the model, got %q", r.Model)
		}
	}

	// The next counselor must address the intervention.
	post(t, srv, "/api/sessions/"+sess.ID+"/interventions", `{"text":"What about hiring first?"}`, http.StatusAccepted, nil)
	var reply model.Message
	post(t, srv, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusCreated, &reply)
	if !reply.Addressed {
		t.Fatal("turn after an intervention should be marked addressed")
	}
	reqs := provider.all()
	if last := reqs[len(reqs)-1]; !strings.Contains(last.System, "What about hiring first?") {
		t.Fatalf("intervention missing from the prompt: %q", last.System)
	}

	post(t, srv, "/api/sessions/"+sess.ID+"/phase", ``, http.StatusOK, &sess)
	if sess.Phase != model.PhaseOpen {
		t.Fatalf("expected phase O, got %s", sess.Phase)
	}

	var sum model.Summary
	post(t, srv, "/api/sessions/"+sess.ID+"/end", ``, http.StatusOK, &sum)
	if sum.Degraded || len(sum.Decisions) != 2 || sum.Decisions[0].Status != model.DecisionTaken {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	// Ended sessions reject new turns.
	post(t, srv, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusConflict, nil)

	var msgs []model.Message
	get(t, srv, "/api/sessions/"+sess.ID+"/messages", http.StatusOK, &msgs)
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
	wantMsgs := len(msgs)

	srv.Close()
	if err := app.Close(); err != nil {
		t.Fatalf("close app: %v", err)
	}

	// A fresh process sees the same log and the stored summary.
	restarted := &fakeProvider{}
	app2, srv2 := newApp(t, dataDir, restarted)
	defer func() {
		srv2.Close()
		app2.Close()
	}()

	var reloaded model.Session
	get(t, srv2, "/api/sessions/"+sess.ID, http.StatusOK, &reloaded)
	if reloaded.Status != model.StatusEnded || len(reloaded.Messages) != wantMsgs {
		t.Fatalf("reload: status %s with %d messages, want ended with %d", reloaded.Status, len(reloaded.Messages), wantMsgs)
	}
	var stored model.Summary
	get(t, srv2, "/api/sessions/"+sess.ID+"/summary", http.StatusOK, &stored)
	if stored.Text != sum.Text || restarted.summaryCalls() != 0 {
		t.Fatalf("summary should come from the store, got %q after %d extraction calls", stored.Text, restarted.summaryCalls())
	}
}

func TestE2E_SoloResumeAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	app, srv := newApp(t, dataDir, &fakeProvider{})

	var sess model.Session
	post(t, srv, "/api/sessions", `{"participants":["operator"],"topic":"Which market first?"}`, http.StatusCreated, &sess)
	if sess.Mode != model.ModeSolo {
		t.Fatalf("one participant should infer solo, got %s", sess.Mode)
	}
	post(t, srv, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusCreated, nil)
	post(t, srv, "/api/sessions/"+sess.ID+"/pause", ``, http.StatusOK, nil)

	srv.Close()
	if err := app.Close(); err != nil {
		t.Fatalf("close app: %v", err)
	}

	app2, srv2 := newApp(t, dataDir, &fakeProvider{})
	defer func() {
		srv2.Close()
		app2.Close()
	}()

	// Paused survives the restart and turns stay blocked until resumed.
	post(t, srv2, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusConflict, nil)
	post(t, srv2, "/api/sessions/"+sess.ID+"/resume", ``, http.StatusOK, nil)

	var msg model.Message
	post(t, srv2, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusCreated, &msg)
	if msg.Seq != 3 || msg.SpeakerName != "Operator" {
		t.Fatalf("expected Operator at seq 3, got %s at %d", msg.SpeakerName, msg.Seq)
	}
}

func TestE2E_RevisionSession(t *testing.T) {
	dataDir := t.TempDir()
	app, srv := newApp(t, dataDir, &fakeProvider{})
	defer func() {
		srv.Close()
		app.Close()
	}()

	var src model.Session
	post(t, srv, "/api/sessions", `{"participants":["skeptic","visionary"],"topic":"Open an office in Lisbon?"}`, http.StatusCreated, &src)
	post(t, srv, "/api/sessions/"+src.ID+"/turns", ``, http.StatusCreated, nil)

	// Revisions need an ended source.
	post(t, srv, "/api/sessions/"+src.ID+"/revisions", ``, http.StatusConflict, nil)
	post(t, srv, "/api/sessions/"+src.ID+"/end", ``, http.StatusOK, nil)

	var rev model.Session
	post(t, srv, "/api/sessions/"+src.ID+"/revisions", `{"topic":"The lease fell through."}`, http.StatusCreated, &rev)
	if rev.Mode != model.ModeRevision || rev.ParentID != src.ID || rev.Phase != model.PhaseDone {
		t.Fatalf("unexpected revision session: %s parent=%s phase=%s", rev.Mode, rev.ParentID, rev.Phase)
	}
	if len(rev.Messages) == 0 || !strings.Contains(rev.Messages[0].Content, "Delay the seed round") {
		t.Fatal("revision should be seeded with the source decisions")
	}

	var original []model.Message
	get(t, srv, "/api/sessions/"+src.ID+"/messages", http.StatusOK, &original)
	if len(original) != 2 {
		t.Fatalf("source log must be untouched, has %d messages", len(original))
	}
}

func TestE2E_EventStreamAndDecisions(t *testing.T) {
	dataDir := t.TempDir()
	app, srv := newApp(t, dataDir, &fakeProvider{})

	var sess model.Session
	post(t, srv, "/api/sessions", `{"participants":["pragmatist"],"topic":"Hire a CFO?"}`, http.StatusCreated, &sess)
	post(t, srv, "/api/sessions/"+sess.ID+"/turns", ``, http.StatusCreated, nil)
	post(t, srv, "/api/sessions/"+sess.ID+"/end", ``, http.StatusOK, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/sessions/"+sess.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		typ := strings.TrimPrefix(line, "event: ")
		types = append(types, typ)
		if typ == model.EventSummary {
			break
		}
	}
	resp.Body.Close()

	joined := strings.Join(types, ",")
	for _, want := range []string{model.EventStatus, model.EventTurn, model.EventSummary} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %s event in replay: %s", want, joined)
		}
	}

	srv.Close()
	if err := app.Close(); err != nil {
		t.Fatalf("close app: %v", err)
	}

	// With the SQLite driver extracted decisions land in the same database.
	st, err := sqliteStore.New(filepath.Join(dataDir, "counsel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	decisions, err := st.GetDecisions(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get decisions: %v", err)
	}
	if len(decisions) != 2 || decisions[0].Text != "Delay the seed round" {
		t.Fatalf("unexpected stored decisions: %+v", decisions)
	}
}
