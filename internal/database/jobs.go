package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonatasu/dubby/internal/jobs"
)

const jobColumns = `job_id, state, src_lang, dst_lang, input_path, output_path, error,
	phases, total_seconds, started_at, finished_at`

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	State  string
	Limit  int
	Offset int
}

// SaveJob upserts a job snapshot. A terminal row is never overwritten by a
// running snapshot of the same ID.
func (db *DB) SaveJob(ctx context.Context, j jobs.Job) error {
	phases, err := phasesJSON(j.Phases)
	if err != nil {
		return fmt.Errorf("marshal phases for %s: %w", j.ID, err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (job_id) DO UPDATE SET
			state         = EXCLUDED.state,
			src_lang      = EXCLUDED.src_lang,
			dst_lang      = EXCLUDED.dst_lang,
			input_path    = EXCLUDED.input_path,
			output_path   = EXCLUDED.output_path,
			error         = EXCLUDED.error,
			phases        = EXCLUDED.phases,
			total_seconds = EXCLUDED.total_seconds,
			started_at    = EXCLUDED.started_at,
			finished_at   = EXCLUDED.finished_at,
			updated_at    = now()
		WHERE jobs.state = 'running' OR EXCLUDED.state <> 'running'`,
		j.ID, string(j.State), j.SrcLang, j.DstLang, j.InputPath,
		pqString(j.OutputPath), pqString(j.Error),
		phases, j.TotalSeconds, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob returns an archived job. Missing IDs wrap jobs.ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return j, err
}

// ListJobs returns archived jobs, newest first, and the total matching count.
func (db *DB) ListJobs(ctx context.Context, f JobFilter) ([]jobs.Job, int, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE ($1::text IS NULL OR state = $1)`,
		pqString(f.State),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1::text IS NULL OR state = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		pqString(f.State), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []jobs.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}

// CountByState returns the number of archived jobs per state.
func (db *DB) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := db.Pool.Query(ctx, `SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (jobs.Job, error) {
	var (
		j          jobs.Job
		state      string
		output     *string
		errMsg     *string
		phases     []byte
		total      *float64
		finishedAt *time.Time
	)
	err := row.Scan(&j.ID, &state, &j.SrcLang, &j.DstLang, &j.InputPath, &output, &errMsg,
		&phases, &total, &j.StartedAt, &finishedAt)
	if err != nil {
		return jobs.Job{}, err
	}
	j.State = jobs.State(state)
	if output != nil {
		j.OutputPath = *output
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	j.TotalSeconds = total
	j.FinishedAt = finishedAt
	if err := json.Unmarshal(phases, &j.Phases); err != nil {
		return jobs.Job{}, fmt.Errorf("decode phases for %s: %w", j.ID, err)
	}
	if j.Phases == nil {
		j.Phases = []jobs.PhaseRecord{}
	}
	return j, nil
}

func phasesJSON(phases []jobs.PhaseRecord) ([]byte, error) {
	if len(phases) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(phases)
}

// clampPage bounds list pagination to 1..500 rows.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pqString maps "" to NULL so the ($1::text IS NULL OR ...) filters match
// every row.
func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
