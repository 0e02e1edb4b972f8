package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dub_jobs (
    id           uuid PRIMARY KEY,
    state        text NOT NULL,
    origin       text NOT NULL DEFAULT '',
    video_path   text NOT NULL,
    source_lang  text NOT NULL DEFAULT '',
    target_lang  text NOT NULL,
    voice        text NOT NULL DEFAULT '',
    error        text NOT NULL DEFAULT '',
    segments     int NOT NULL DEFAULT 0,
    annotations  int NOT NULL DEFAULT 0,
    artifacts    text[] NOT NULL DEFAULT '{}',
    created_at   timestamptz NOT NULL DEFAULT now(),
    started_at   timestamptz,
    finished_at  timestamptz
);`

// InitSchema creates the base tables on a fresh database. It checks whether
// dub_jobs exists; if present, it's a no-op and Migrate handles the rest.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'dub_jobs')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
