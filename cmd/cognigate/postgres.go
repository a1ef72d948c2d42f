package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/vorion-labs/cognigate/pkg/proof"
)

func openPostgresProofStore(dsn string) (*proof.PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres proof store selected but COGNIGATE_POSTGRES_DSN is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	store, err := proof.NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
