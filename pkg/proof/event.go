// Package proof records the append-only decision trail: one hash-chained
// event per phase transition of an intent's lifecycle. Hashing is canonical
// (RFC 8785 JCS) so two stores holding the same events agree on every hash.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Phase enumerates the lifecycle transitions worth proving.
type Phase string

const (
	PhaseIntentReceived     Phase = "intent_received"
	PhaseDecisionMade       Phase = "decision_made"
	PhaseExecutionStarted   Phase = "execution_started"
	PhaseExecutionCompleted Phase = "execution_completed"
	PhaseExecutionFailed    Phase = "execution_failed"
)

// GenesisHash anchors the chain before any event exists.
const GenesisHash = "genesis"

var (
	ErrEventNotFound = errors.New("proof: event not found")
	ErrChainBroken   = errors.New("proof: hash chain is broken")
)

// Event is one immutable record in the proof chain. Never updated or
// deleted once appended.
type Event struct {
	EventID     string          `json:"event_id"`
	Sequence    uint64          `json:"sequence"`
	IntentID    string          `json:"intent_id"`
	AgentID     string          `json:"agent_id"`
	Phase       Phase           `json:"phase"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	EventHash   string          `json:"event_hash"`
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// canonicalJSON renders v through the standard marshaler (honoring tags)
// and then canonicalizes per RFC 8785.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("proof: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("proof: canonicalize: %w", err)
	}
	return canonical, nil
}

// newEvent builds a fully hashed event ready to persist. The caller owns
// sequence assignment and chain-head tracking.
func newEvent(seq uint64, prevHash, intentID, agentID string, phase Phase, payload any, now time.Time) (*Event, error) {
	payloadBytes, err := canonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		EventID:     uuid.New().String(),
		Sequence:    seq,
		IntentID:    intentID,
		AgentID:     agentID,
		Phase:       phase,
		Timestamp:   now.UTC(),
		Payload:     payloadBytes,
		PayloadHash: hashBytes(payloadBytes),
		PrevHash:    prevHash,
	}
	h, err := computeEventHash(ev)
	if err != nil {
		return nil, err
	}
	ev.EventHash = h
	return ev, nil
}

// computeEventHash covers everything that makes the event what it is,
// including the previous hash for chaining. The timestamp is rendered as a
// fixed-format string so database round trips cannot shift the hash.
func computeEventHash(ev *Event) (string, error) {
	hashable := struct {
		Sequence    uint64 `json:"sequence"`
		IntentID    string `json:"intent_id"`
		AgentID     string `json:"agent_id"`
		Phase       Phase  `json:"phase"`
		Timestamp   string `json:"timestamp"`
		PayloadHash string `json:"payload_hash"`
		PrevHash    string `json:"prev_hash"`
	}{
		Sequence:    ev.Sequence,
		IntentID:    ev.IntentID,
		AgentID:     ev.AgentID,
		Phase:       ev.Phase,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
		PayloadHash: ev.PayloadHash,
		PrevHash:    ev.PrevHash,
	}
	canonical, err := canonicalJSON(hashable)
	if err != nil {
		return "", err
	}
	return hashBytes(canonical), nil
}

// VerifyEvents checks a complete, sequence-ordered chain: every prev link
// matches and every stored hash recomputes.
func VerifyEvents(events []*Event) error {
	expectedPrev := GenesisHash
	for i, ev := range events {
		if ev.PrevHash != expectedPrev {
			return fmt.Errorf("%w: event %d prev_hash %s, expected %s",
				ErrChainBroken, i, ev.PrevHash, expectedPrev)
		}
		computed, err := computeEventHash(ev)
		if err != nil {
			return fmt.Errorf("%w: event %d rehash failed: %w", ErrChainBroken, i, err)
		}
		if computed != ev.EventHash {
			return fmt.Errorf("%w: event %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, ev.EventHash)
		}
		expectedPrev = ev.EventHash
	}
	return nil
}
