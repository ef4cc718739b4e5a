// Package channel connects chat transports to the engine.
//
// A transport (Slack, Telegram) maps each conversation to a key and hands
// incoming text to a Router. The Router understands a small command language
// and turns everything else into interventions.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/holdhq/counsel/engine"
	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/pipeline"
)

// Channel is a chat transport that runs until ctx is canceled.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}

// Sessions is the part of the engine a Router drives.
type Sessions interface {
	StartSession(ctx context.Context, opts engine.StartOptions) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	AdvanceTurn(ctx context.Context, id string) (*model.Message, error)
	RunDebate(ctx context.Context, id string, maxTurns int) ([]*model.Message, error)
	InjectIntervention(ctx context.Context, id, text string) (*model.Message, error)
	Pause(ctx context.Context, id string) (*model.Session, error)
	Resume(ctx context.Context, id string) (*model.Session, error)
	AdvancePhase(ctx context.Context, id string) (*model.Session, error)
	EndSession(ctx context.Context, id string) (*model.Summary, error)
	ReviseSession(ctx context.Context, endedID string, opts engine.StartOptions) (*model.Session, error)
}

// Reply is one message a transport posts back to the conversation.
type Reply struct {
	Text string
	// Speaker is set for counselor turns.
	Speaker string
	// Summary is set when a session ended; Transcript then holds the full log.
	Summary    *model.Summary
	Transcript string
	SessionID  string
}

// HelpText lists the commands a Router understands.
const HelpText = `Commands:
  start solo <persona> <topic>          one counselor
  start mesa <persona,persona,...> <topic>  a debate
  next                                  next counselor turn
  debate [n]                            run n turns (default: until the round limit)
  pause | resume                        hold or continue the debate
  phase                                 move to the next HOLD phase
  end                                   close the session and extract decisions
  revise [note]                         reopen the last ended session's decisions
  status                                show the session state
Anything else is passed to the counselors as your input.`

// Router maps conversation keys to sessions and executes commands.
type Router struct {
	sessions Sessions

	mu     sync.Mutex
	active map[string]string // conversation key -> session ID
}

// NewRouter creates a Router over the given engine.
func NewRouter(s Sessions) *Router {
	return &Router{sessions: s, active: make(map[string]string)}
}

// SessionFor returns the session bound to a conversation, if any.
func (r *Router) SessionFor(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[key]
	return id, ok
}

// Bind attaches a conversation to an existing session.
func (r *Router) Bind(key, sessionID string) {
	r.mu.Lock()
	r.active[key] = sessionID
	r.mu.Unlock()
}

// Handle executes one incoming message and returns the replies to post.
// Errors are rendered as replies; the returned error is only for logging.
func (r *Router) Handle(ctx context.Context, key, text string) ([]Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := strings.TrimSpace(text[len(fields[0]):])

	switch cmd {
	case "help":
		return []Reply{{Text: HelpText}}, nil
	case "start":
		if args == "" {
			return []Reply{{Text: HelpText}}, nil
		}
		return r.start(ctx, key, args)
	}

	id, ok := r.SessionFor(key)
	if !ok {
		return []Reply{{Text: "No session here yet. " + HelpText}}, nil
	}

	switch cmd {
	case "next":
		msg, err := r.sessions.AdvanceTurn(ctx, id)
		if err != nil {
			return failure(err)
		}
		return []Reply{turnReply(msg)}, nil
	case "debate":
		n := 0
		if args != "" {
			v, err := strconv.Atoi(args)
			if err != nil || v < 0 {
				return []Reply{{Text: "debate takes an optional number of turns"}}, nil
			}
			n = v
		}
		msgs, err := r.sessions.RunDebate(ctx, id, n)
		out := make([]Reply, 0, len(msgs)+1)
		for _, m := range msgs {
			out = append(out, turnReply(m))
		}
		if err != nil {
			rep, _ := failure(err)
			return append(out, rep...), err
		}
		if len(out) == 0 {
			out = append(out, Reply{Text: "Nothing to do: the round limit is reached."})
		}
		return out, nil
	case "pause":
		return r.transition(ctx, id, r.sessions.Pause, "Paused.")
	case "resume":
		return r.transition(ctx, id, r.sessions.Resume, "Resumed.")
	case "phase":
		sess, err := r.sessions.AdvancePhase(ctx, id)
		if err != nil {
			return failure(err)
		}
		return []Reply{{Text: fmt.Sprintf("Phase %s (%s).", sess.Phase, sess.Phase.Name())}}, nil
	case "end":
		return r.end(ctx, id)
	case "revise":
		sess, err := r.sessions.ReviseSession(ctx, id, engine.StartOptions{Topic: args})
		if err != nil {
			return failure(err)
		}
		r.Bind(key, sess.ID)
		return []Reply{{Text: fmt.Sprintf("Revision session %s opened at phase D.", sess.ID), SessionID: sess.ID}}, nil
	case "status":
		sess, err := r.sessions.GetSession(ctx, id)
		if err != nil {
			return failure(err)
		}
		return []Reply{{Text: statusLine(sess), SessionID: sess.ID}}, nil
	}

	return r.say(ctx, id, text)
}

func (r *Router) start(ctx context.Context, key, args string) ([]Reply, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return []Reply{{Text: "usage: start <solo|mesa> <persona,...> <topic>"}}, nil
	}
	mode := model.Mode(strings.ToLower(parts[0]))
	if mode != model.ModeSolo && mode != model.ModeMesa {
		return []Reply{{Text: "mode must be solo or mesa"}}, nil
	}
	participants := strings.Split(parts[1], ",")
	topic := strings.Join(parts[2:], " ")

	sess, err := r.sessions.StartSession(ctx, engine.StartOptions{
		Mode:         mode,
		Participants: participants,
		Topic:        topic,
	})
	if err != nil {
		return []Reply{{Text: "Could not start: " + err.Error()}}, err
	}
	r.Bind(key, sess.ID)
	return []Reply{{
		Text:      fmt.Sprintf("Session %s started (%s with %s). Send next or debate.", sess.ID, sess.Mode, strings.Join(sess.Participants, ", ")),
		SessionID: sess.ID,
	}}, nil
}

// say treats free text as user input. In solo mode the counselor answers
// right away.
func (r *Router) say(ctx context.Context, id, text string) ([]Reply, error) {
	sess, err := r.sessions.GetSession(ctx, id)
	if err != nil {
		return failure(err)
	}
	if sess.Status == model.StatusIdle {
		return []Reply{{Text: "The session has not started yet. Send next to hear the first counselor."}}, nil
	}
	if _, err := r.sessions.InjectIntervention(ctx, id, text); err != nil {
		return failure(err)
	}
	if sess.Mode != model.ModeSolo {
		return []Reply{{Text: "Noted. The next counselor will respond to it."}}, nil
	}
	msg, err := r.sessions.AdvanceTurn(ctx, id)
	if err != nil {
		return failure(err)
	}
	return []Reply{turnReply(msg)}, nil
}

func (r *Router) transition(ctx context.Context, id string, op func(context.Context, string) (*model.Session, error), ok string) ([]Reply, error) {
	if _, err := op(ctx, id); err != nil {
		return failure(err)
	}
	return []Reply{{Text: ok}}, nil
}

func (r *Router) end(ctx context.Context, id string) ([]Reply, error) {
	sum, err := r.sessions.EndSession(ctx, id)
	if err != nil {
		return failure(err)
	}
	rep := Reply{Text: FormatSummary(sum), Summary: sum, SessionID: id}
	if sess, err := r.sessions.GetSession(ctx, id); err == nil {
		rep.Transcript = pipeline.Transcript(sess.Messages)
	}
	return []Reply{rep}, nil
}

func turnReply(m *model.Message) Reply {
	return Reply{Text: m.Content, Speaker: m.SpeakerName, SessionID: m.SessionID}
}

func failure(err error) ([]Reply, error) {
	switch {
	case errors.Is(err, engine.ErrTurnInFlight):
		return []Reply{{Text: "A counselor is still answering. Try again in a moment."}}, err
	case errors.Is(err, engine.ErrInvalidTransition):
		return []Reply{{Text: "Not now: " + err.Error()}}, err
	}
	return []Reply{{Text: "Error: " + err.Error()}}, err
}

func statusLine(s *model.Session) string {
	return fmt.Sprintf("Session %s: %s, %s, phase %s (%s), round %d, %d messages",
		s.ID, s.Mode, s.Status, s.Phase, s.Phase.Name(), s.RoundCount, len(s.Messages))
}

// FormatSummary renders a summary as plain text.
func FormatSummary(sum *model.Summary) string {
	var b strings.Builder
	b.WriteString("Summary: ")
	b.WriteString(sum.Text)
	if len(sum.Decisions) > 0 {
		b.WriteString("\n\nDecisions:")
		for i, d := range sum.Decisions {
			fmt.Fprintf(&b, "\n%d. %s [%s]", i+1, d.Text, d.Status)
		}
	}
	return b.String()
}
