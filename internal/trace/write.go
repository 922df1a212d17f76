package trace

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CChapmanbird/nessai/internal/sampler"
)

// RunMeta describes a run at creation time.
type RunMeta struct {
	ID        string
	NLive     int
	Dims      int
	Seed      uint64
	Tolerance float64
}

// CreateRun registers a run. Idempotent: re-registering an existing run (a
// resumed run reuses its ID) is a no-op.
func (s *Store) CreateRun(ctx context.Context, meta RunMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, nlive, dims, seed, tolerance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, meta.ID, meta.NLive, meta.Dims, int64(meta.Seed), meta.Tolerance)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the final result and marks the run finished.
func (s *Store) FinishRun(ctx context.Context, res *sampler.Result) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = 'finished',
			logz = ?, logz_err = ?, information = ?, iterations = ?,
			final_ks = ?, final_ks_p = ?,
			finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?
	`, res.LogZ, res.LogZErr, res.Information, res.Iterations,
		res.FinalKS, res.FinalKSPValue, res.RunID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	for _, ev := range res.Events {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO events (run_id, iteration, kind, detail)
			VALUES (?, ?, ?, ?)
		`, res.RunID, ev.Iteration, string(ev.Kind), ev.Detail)
		if err != nil {
			return fmt.Errorf("finish run: write event: %w", err)
		}
	}
	return nil
}

// MarkFailed marks a run as failed with the error message stored as an event.
func (s *Store) MarkFailed(ctx context.Context, runID string, runErr error) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = 'failed' WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, iteration, kind, detail)
		VALUES (?, -1, 'error', ?)
	`, runID, runErr.Error()); err != nil {
		return fmt.Errorf("mark failed: write event: %w", err)
	}
	return nil
}

// SaveSnapshot persists a resumption snapshot, replacing any previous
// snapshot at the same iteration. The blob is YAML: it must round-trip the
// infinities that appear in birth thresholds, which rules out JSON.
func (s *Store) SaveSnapshot(ctx context.Context, snap *sampler.Snapshot) error {
	blob, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, iteration, data)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, iteration) DO UPDATE SET data = excluded.data
	`, snap.RunID, snap.Iteration, string(blob))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Recorder streams a single run's trace into the store. It implements
// sampler.Recorder; the sampler calls it from the loop goroutine only, so no
// locking is needed.
type Recorder struct {
	store *Store
	runID string
	ord   int
}

// NewRecorder attaches a recorder to a run. For a resumed run the ordinal
// counter continues from the rows already present, keeping (run_id, ord)
// dense and collision-free.
func (s *Store) NewRecorder(ctx context.Context, runID string) (*Recorder, error) {
	var ord int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_points WHERE run_id = ?`, runID).Scan(&ord)
	if err != nil {
		return nil, fmt.Errorf("new recorder: %w", err)
	}
	return &Recorder{store: s, runID: runID, ord: ord}, nil
}

// RecordDeadPoint appends one dead point.
func (r *Recorder) RecordDeadPoint(ctx context.Context, dp sampler.DeadPoint) error {
	params, err := marshalParams(dp.Point.Params)
	if err != nil {
		return fmt.Errorf("record dead point: %w", err)
	}
	final := 0
	if dp.Final {
		final = 1
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO dead_points
		(run_id, ord, iteration, logx, logw, final, logp, logl, logl_birth, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, ord) DO NOTHING
	`, r.runID, r.ord, dp.Iteration, dp.LogX, dp.LogW, final,
		dp.Point.LogP, dp.Point.LogL, dp.Point.LogLBirth, params)
	if err != nil {
		return fmt.Errorf("record dead point: %w", err)
	}
	r.ord++
	return nil
}

// RecordInsertion appends one insertion index. Idempotent on (run, iteration).
func (r *Recorder) RecordInsertion(ctx context.Context, iteration, index int) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO insertions (run_id, iteration, idx)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, iteration) DO NOTHING
	`, r.runID, iteration, index)
	if err != nil {
		return fmt.Errorf("record insertion: %w", err)
	}
	return nil
}

// marshalParams serializes a parameter vector to YAML, keeping the stored
// format uniform with snapshot blobs.
func marshalParams(params []float64) (string, error) {
	blob, err := yaml.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return strings.TrimSpace(string(blob)), nil
}

func unmarshalParams(data string) ([]float64, error) {
	var params []float64
	if err := yaml.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return params, nil
}
