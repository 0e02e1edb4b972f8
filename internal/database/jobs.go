package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/dubsync/internal/jobs"
)

const jobColumns = `id, state, origin, video_path, source_lang, target_lang, voice,
	error, segments, annotations, no_speech_fallback, artifacts,
	created_at, started_at, finished_at`

// CreateJob inserts a new job record.
func (db *DB) CreateJob(ctx context.Context, j *jobs.Job) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO dub_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		j.ID, j.State, j.Origin, j.VideoPath, j.SourceLang, j.TargetLang, j.Voice,
		j.Error, j.Segments, j.Annotations, j.Fallback, artifactsOrEmpty(j.Artifacts),
		j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// UpdateJob writes the mutable fields of a job.
func (db *DB) UpdateJob(ctx context.Context, j *jobs.Job) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE dub_jobs SET
			state = $2, error = $3, segments = $4, annotations = $5,
			no_speech_fallback = $6, artifacts = $7, started_at = $8, finished_at = $9
		WHERE id = $1
	`,
		j.ID, j.State, j.Error, j.Segments, j.Annotations,
		j.Fallback, artifactsOrEmpty(j.Artifacts), j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

// GetJob loads one job by ID.
func (db *DB) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM dub_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns a page of jobs, newest first, and the total match count.
func (db *DB) ListJobs(ctx context.Context, f jobs.ListFilter) ([]jobs.Job, int, error) {
	where, args := listWhere(f)

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM dub_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query, args := listQuery(f)
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

func listWhere(f jobs.ListFilter) (string, []any) {
	if f.State == "" {
		return "", nil
	}
	return " WHERE state = $1", []any{string(f.State)}
}

func listQuery(f jobs.ListFilter) (string, []any) {
	where, args := listWhere(f)
	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM dub_jobs` + where + ` ORDER BY created_at DESC, id DESC`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(
		&j.ID, &j.State, &j.Origin, &j.VideoPath, &j.SourceLang, &j.TargetLang, &j.Voice,
		&j.Error, &j.Segments, &j.Annotations, &j.Fallback, &j.Artifacts,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(j.Artifacts) == 0 {
		j.Artifacts = nil
	}
	return &j, nil
}

func artifactsOrEmpty(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
