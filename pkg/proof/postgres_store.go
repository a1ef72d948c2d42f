package proof

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists the proof chain in PostgreSQL for multi-service
// deployments that already run one. Same chaining discipline as the
// SQLite store; placeholders and upsert dialect differ.
type PostgresStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proof_events (
		event_id     TEXT PRIMARY KEY,
		sequence     BIGINT NOT NULL UNIQUE,
		intent_id    TEXT NOT NULL,
		agent_id     TEXT NOT NULL,
		phase        TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		payload      JSONB NOT NULL,
		payload_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		event_hash   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proof_events_intent ON proof_events(intent_id, sequence);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, phase Phase, intentID, agentID string, payload any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("proof: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head string
	var seq uint64
	err = tx.QueryRowContext(ctx,
		`SELECT event_hash, sequence FROM proof_events ORDER BY sequence DESC LIMIT 1`).Scan(&head, &seq)
	if err == sql.ErrNoRows {
		head, seq = GenesisHash, 0
	} else if err != nil {
		return nil, fmt.Errorf("proof: read chain head: %w", err)
	}

	ev, err := newEvent(seq+1, head, intentID, agentID, phase, payload, time.Now())
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proof_events (event_id, sequence, intent_id, agent_id, phase, timestamp, payload, payload_hash, prev_hash, event_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.EventID, ev.Sequence, ev.IntentID, ev.AgentID, string(ev.Phase),
		ev.Timestamp.Format(time.RFC3339Nano), string(ev.Payload),
		ev.PayloadHash, ev.PrevHash, ev.EventHash,
	)
	if err != nil {
		return nil, fmt.Errorf("proof: insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("proof: commit append: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectEventColumns+` FROM proof_events WHERE event_id = $1`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (s *PostgresStore) ListByIntent(ctx context.Context, intentID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectEventColumns+` FROM proof_events WHERE intent_id = $1 ORDER BY sequence`, intentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEvents(rows)
}

func (s *PostgresStore) Head(ctx context.Context) (string, uint64, error) {
	var head string
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT event_hash, sequence FROM proof_events ORDER BY sequence DESC LIMIT 1`).Scan(&head, &seq)
	if err == sql.ErrNoRows {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("proof: read chain head: %w", err)
	}
	return head, seq, nil
}

func (s *PostgresStore) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectEventColumns+` FROM proof_events ORDER BY sequence`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	events, err := collectEvents(rows)
	if err != nil {
		return err
	}
	return VerifyEvents(events)
}

func (s *PostgresStore) Close() error { return s.db.Close() }
