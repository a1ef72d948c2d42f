package proof

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the proof chain in SQLite. Appends are serialized
// by a store-level mutex on top of the insert transaction so the chain
// never forks under concurrent writers.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore wraps an open database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (creating if needed) a SQLite proof store at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("proof: open sqlite: %w", err)
	}
	// The chain is strictly serial anyway.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proof_events (
		event_id     TEXT PRIMARY KEY,
		sequence     INTEGER NOT NULL UNIQUE,
		intent_id    TEXT NOT NULL,
		agent_id     TEXT NOT NULL,
		phase        TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		payload      TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		event_hash   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proof_events_intent ON proof_events(intent_id, sequence);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, phase Phase, intentID, agentID string, payload any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("proof: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, seq, err := headTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	ev, err := newEvent(seq+1, head, intentID, agentID, phase, payload, time.Now())
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proof_events (event_id, sequence, intent_id, agent_id, phase, timestamp, payload, payload_hash, prev_hash, event_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var phase, ts, payload string
	err := row.Scan(&ev.EventID, &ev.Sequence, &ev.IntentID, &ev.AgentID,
		&phase, &ts, &payload, &ev.PayloadHash, &ev.PrevHash, &ev.EventHash)
	if err != nil {
		return nil, err
	}
	ev.Phase = Phase(phase)
	ev.Payload = []byte(payload)
	ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("proof: parse timestamp: %w", err)
	}
	return &ev, nil
}

const selectEventColumns = `event_id, sequence, intent_id, agent_id, phase, timestamp, payload, payload_hash, prev_hash, event_hash`

func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectEventColumns+` FROM proof_events WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (s *SQLiteStore) ListByIntent(ctx context.Context, intentID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectEventColumns+` FROM proof_events WHERE intent_id = ? ORDER BY sequence`, intentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func headTx(ctx context.Context, tx *sql.Tx) (string, uint64, error) {
	var head string
	var seq uint64
	err := tx.QueryRowContext(ctx,
		`SELECT event_hash, sequence FROM proof_events ORDER BY sequence DESC LIMIT 1`).Scan(&head, &seq)
	if err == sql.ErrNoRows {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("proof: read chain head: %w", err)
	}
	return head, seq, nil
}

func (s *SQLiteStore) Head(ctx context.Context) (string, uint64, error) {
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

func (s *SQLiteStore) VerifyChain(ctx context.Context) error {
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

func (s *SQLiteStore) Close() error { return s.db.Close() }
