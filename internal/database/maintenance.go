package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeJobsOlderThan deletes terminal jobs whose finished_at is older than
// retention and reports how many rows went. Running rows are kept whatever
// their age.
func (db *DB) PurgeJobsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := time.Now().Add(-retention)
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM jobs WHERE state <> 'running' AND finished_at IS NOT NULL AND finished_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge jobs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
