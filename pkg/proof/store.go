package proof

import "context"

// Store persists the proof chain. Implementations must serialize appends so
// the chain never forks.
type Store interface {
	// Append hashes and persists one event at the chain head.
	Append(ctx context.Context, phase Phase, intentID, agentID string, payload any) (*Event, error)
	// Get returns one event by ID.
	Get(ctx context.Context, eventID string) (*Event, error)
	// ListByIntent returns the intent's events in sequence order.
	ListByIntent(ctx context.Context, intentID string) ([]*Event, error)
	// Head returns the current chain head hash and sequence.
	Head(ctx context.Context) (string, uint64, error)
	// VerifyChain re-walks the whole chain and rehashes every event.
	VerifyChain(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}
