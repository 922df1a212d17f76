package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/CChapmanbird/nessai/internal/diagnostics"
	"github.com/CChapmanbird/nessai/internal/sampler"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("trace: not found")

// RunSummary is the stored view of a run.
type RunSummary struct {
	ID          string
	CreatedAt   string
	NLive       int
	Dims        int
	Seed        uint64
	Tolerance   float64
	Status      string
	LogZ        float64
	LogZErr     float64
	Information float64
	Iterations  int
	FinalKS     float64
	FinalKSP    float64
	FinishedAt  string
}

// GetRun fetches a run summary by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, nlive, dims, seed, tolerance, status,
		       COALESCE(logz, 0), COALESCE(logz_err, 0), COALESCE(information, 0),
		       COALESCE(iterations, 0), COALESCE(final_ks, 0), COALESCE(final_ks_p, 0),
		       COALESCE(finished_at, '')
		FROM runs WHERE id = ?
	`, runID)
	var r RunSummary
	var seed int64
	err := row.Scan(&r.ID, &r.CreatedAt, &r.NLive, &r.Dims, &seed, &r.Tolerance,
		&r.Status, &r.LogZ, &r.LogZErr, &r.Information, &r.Iterations,
		&r.FinalKS, &r.FinalKSP, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Seed = uint64(seed)
	return &r, nil
}

// ListRuns returns all run summaries ordered by creation time.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, nlive, dims, seed, tolerance, status,
		       COALESCE(logz, 0), COALESCE(logz_err, 0), COALESCE(information, 0),
		       COALESCE(iterations, 0), COALESCE(final_ks, 0), COALESCE(final_ks_p, 0),
		       COALESCE(finished_at, '')
		FROM runs ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var seed int64
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.NLive, &r.Dims, &seed, &r.Tolerance,
			&r.Status, &r.LogZ, &r.LogZErr, &r.Information, &r.Iterations,
			&r.FinalKS, &r.FinalKSP, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		r.Seed = uint64(seed)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// DeadPoints returns a run's dead points in removal order.
func (s *Store) DeadPoints(ctx context.Context, runID string) ([]sampler.DeadPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, logx, logw, final, logp, logl, logl_birth, params
		FROM dead_points WHERE run_id = ? ORDER BY ord
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read dead points: %w", err)
	}
	defer rows.Close()

	var out []sampler.DeadPoint
	for rows.Next() {
		var dp sampler.DeadPoint
		var final int
		var params string
		if err := rows.Scan(&dp.Iteration, &dp.LogX, &dp.LogW, &final,
			&dp.Point.LogP, &dp.Point.LogL, &dp.Point.LogLBirth, &params); err != nil {
			return nil, fmt.Errorf("read dead points: scan: %w", err)
		}
		dp.Final = final != 0
		dp.Point.Params, err = unmarshalParams(params)
		if err != nil {
			return nil, fmt.Errorf("read dead points: %w", err)
		}
		out = append(out, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read dead points: %w", err)
	}
	return out, nil
}

// InsertionIndices returns a run's insertion indices in iteration order.
func (s *Store) InsertionIndices(ctx context.Context, runID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx FROM insertions WHERE run_id = ? ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read insertion indices: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("read insertion indices: scan: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read insertion indices: %w", err)
	}
	return out, nil
}

// Events returns a run's diagnostic events in write order.
func (s *Store) Events(ctx context.Context, runID string) ([]diagnostics.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, kind, detail FROM events WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []diagnostics.Event
	for rows.Next() {
		var ev diagnostics.Event
		var kind string
		if err := rows.Scan(&ev.Iteration, &kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		ev.Kind = diagnostics.EventKind(kind)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// LatestSnapshot returns the most recent snapshot of a run, or ErrNotFound
// if none was saved.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (*sampler.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots WHERE run_id = ?
		ORDER BY iteration DESC LIMIT 1
	`, runID)
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for run %q", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	var snap sampler.Snapshot
	if err := yaml.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("latest snapshot: unmarshal: %w", err)
	}
	return &snap, nil
}

// ensure the recorder satisfies the sampler's interface
var _ sampler.Recorder = (*Recorder)(nil)
