// Package sqlite stores jobs and images in a single SQLite file. It backs
// single-node deployments and the engine tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
create table if not exists jobs (
    id text primary key,
    status text not null default 'PENDING',
    instruction text not null default '',
    model text not null default 'standard',
    total_images integer not null default 0,
    completed_images integer not null default 0,
    failed_images integer not null default 0,
    created_at integer not null,
    updated_at integer not null,
    started_at integer,
    completed_at integer,
    check (completed_images + failed_images <= total_images)
);

create index if not exists jobs_status_idx on jobs (status);
create index if not exists jobs_created_at_idx on jobs (created_at);

create table if not exists images (
    id text primary key,
    job_id text not null references jobs (id) on delete cascade,
    status text not null default 'PENDING',
    retry_count integer not null default 0,
    next_retry_at integer,
    error_message text,
    original_key text not null,
    original_filename text not null default '',
    mime_type text not null default 'image/jpeg',
    file_size integer not null default 0,
    specific_prompt text not null default '',
    result_key text,
    result_mime_type text,
    created_at integer not null,
    updated_at integer not null,
    processed_at integer,
    check (status <> 'RETRY_LATER' or next_retry_at is not null)
);

create index if not exists images_claim_idx on images (status, created_at, id);
create index if not exists images_job_idx on images (job_id);
`

// Open opens (creating if needed) the database at path and applies the schema.
// A single connection serializes writers, which makes the claim statement atomic.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
