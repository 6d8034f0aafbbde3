package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript"
)

// Compile-time assertion that Postgres implements Store.
var _ Store = (*Postgres)(nil)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    topic       TEXT         NOT NULL DEFAULT '',
    origin      TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    spoken_at   TIMESTAMPTZ  NOT NULL,
    saved_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_id
    ON transcript_entries (session_id);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_spoken_at
    ON transcript_entries (spoken_at);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_fts
    ON transcript_entries USING GIN (to_tsvector('english', text));
`

// Postgres is a PostgreSQL-backed Store holding a single [pgxpool.Pool].
// All methods are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a connection pool to the database at dsn and runs
// the schema migration.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// SaveConversation implements Store. All entries of the conversation are
// written in a single transaction so a partial save never surfaces as a
// truncated conversation.
func (p *Postgres) SaveConversation(ctx context.Context, conv Conversation) error {
	if len(conv.Entries) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transcript store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO transcript_entries (session_id, topic, origin, text, spoken_at)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, e := range conv.Entries {
		batch.Queue(q, conv.SessionID, conv.Topic, string(e.Origin), e.Text, e.At)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transcript store: insert entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transcript store: commit: %w", err)
	}
	return nil
}

// LoadConversation implements Store. Entries are returned in spoken order.
func (p *Postgres) LoadConversation(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const q = `
		SELECT origin, text, spoken_at
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY spoken_at, id`

	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: load: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e      transcript.Entry
			origin string
		)
		if err := row.Scan(&origin, &e.Text, &e.At); err != nil {
			return e, err
		}
		e.Origin = transcript.Origin(origin)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan: %w", err)
	}
	return entries, nil
}

// Ping checks connectivity to the database. Used by readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
