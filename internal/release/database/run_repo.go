package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sentilytics/greenlight/internal/release"
)

// RunRepo persists deployment runs to the deployment_runs table. Rows are
// updated only while a run is live; once a terminal state lands the row is
// never touched again, keeping the table an append-only audit log.
type RunRepo struct {
	DB *Database
}

func NewRunRepo(db *Database) *RunRepo { return &RunRepo{DB: db} }

const terminalStates = `'Completed', 'RolledBack', 'Failed'`

func (r *RunRepo) Append(ctx context.Context, run *release.Run) error {
	const q = `
	INSERT INTO deployment_runs(id, commit_id, branch, state, candidate_id, previous_id, outcome, cause, served, started_at, finished_at, duration)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.DB.ExecContext(ctx, q,
		run.ID, run.Commit, run.Branch, string(run.State), nullStr(run.CandidateID), nullStr(run.PreviousID),
		string(run.Outcome), run.Cause, run.Served, run.StartedAt, run.FinishedAt, runInterval(run))
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (r *RunRepo) Update(ctx context.Context, run *release.Run) error {
	q := `
	UPDATE deployment_runs
	SET state = $2, candidate_id = $3, previous_id = $4, outcome = $5, cause = $6, served = $7, finished_at = $8, duration = $9
	WHERE id = $1 AND state NOT IN (` + terminalStates + `)`
	_, err := r.DB.ExecContext(ctx, q,
		run.ID, string(run.State), nullStr(run.CandidateID), nullStr(run.PreviousID),
		string(run.Outcome), run.Cause, run.Served, run.FinishedAt, runInterval(run))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]release.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
	SELECT id, commit_id, branch, state, candidate_id, previous_id, outcome, cause, served, started_at, finished_at
	FROM deployment_runs
	ORDER BY started_at DESC
	LIMIT $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []release.Run
	for rows.Next() {
		var run release.Run
		var state, outcome string
		var candidate, previous sql.NullString
		if err := rows.Scan(&run.ID, &run.Commit, &run.Branch, &state, &candidate, &previous,
			&outcome, &run.Cause, &run.Served, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.State = release.State(state)
		run.Outcome = release.Outcome(outcome)
		run.CandidateID = candidate.String
		run.PreviousID = previous.String
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// runInterval maps the run's elapsed time to a Postgres interval; nil while
// the run is still live.
func runInterval(run *release.Run) any {
	if run.FinishedAt == nil {
		return nil
	}
	return durationToPgInterval(run.FinishedAt.Sub(run.StartedAt))
}

func durationToPgInterval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}
