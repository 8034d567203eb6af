package llm

import "context"

// Chatter is the interface downstream components (prompt-driven plan and
// page generation, verification) depend on, rather than *Gateway
// directly, so tests can substitute a fake.
type Chatter interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

var _ Chatter = (*Gateway)(nil)
