package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GatewayConfig bounds the requests a Gateway builds.
type GatewayConfig struct {
	Model           string        // used when a call names no model
	MaxTokens       int           // default 1024
	Timeout         time.Duration // 0 means the caller's context is the only bound
	HistoryMessages int           // rolling window, 0 = unlimited
	HistoryTokens   int           // rolling token budget, 0 = unlimited
}

// Gateway assembles completion requests and normalizes their outcome. It
// makes a single attempt per call; retrying is a caller decision.
type Gateway struct {
	client Client
	cfg    GatewayConfig
}

// NewGateway returns a Gateway around client.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Gateway{client: client, cfg: cfg}
}

// Complete sends one request made of the system prompt, the rolling history,
// and an optional intervention the speaker must address. It returns the whole
// utterance or an error, never a partial result.
func (g *Gateway) Complete(ctx context.Context, system string, history []Turn, model, intervention string) (string, error) {
	if model == "" {
		model = g.cfg.Model
	}
	if intervention != "" {
		system = strings.TrimSpace(system) + "\n\n" + interventionInstruction(intervention)
	}

	turns := TruncateHistory(append([]Turn(nil), history...), g.cfg.HistoryTokens, g.cfg.HistoryMessages)
	turns = Normalize(turns)

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	out, err := g.client.Complete(ctx, Request{
		Model:     model,
		System:    system,
		Messages:  turns,
		MaxTokens: g.cfg.MaxTokens,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyContent
	}
	return out, nil
}

func interventionInstruction(text string) string {
	return fmt.Sprintf("The user has just interrupted the discussion. Address the following directly before continuing:\n%s", text)
}

// classify maps errors that escaped a provider untyped. Deadline expiry is a
// transport failure so callers see a single error kind for timeouts.
func classify(ctx context.Context, err error) error {
	var te *TransportError
	var me *MalformedResponseError
	if errors.As(err, &te) || errors.As(err, &me) || errors.Is(err, ErrEmptyContent) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Provider: "gateway", Timeout: true, Err: err}
	}
	return &TransportError{Provider: "gateway", Err: err}
}
