// Package llm wraps language-model completion providers behind a small
// interface and normalizes their failures into typed errors.
package llm

import "context"

// Role is the author of a conversation turn as the provider sees it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged entry of the history sent to a provider.
type Turn struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Turn
	MaxTokens int
}

// Client issues exactly one completion call per Complete. Implementations
// must return *TransportError or *MalformedResponseError on failure.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Completer is the gateway contract the engine and the summary stage depend on.
// *Gateway implements it.
type Completer interface {
	Complete(ctx context.Context, system string, history []Turn, model, intervention string) (string, error)
}
