package proposal

import (
	"context"
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/CChapmanbird/nessai/internal/live"
	"github.com/CChapmanbird/nessai/internal/model"
)

// RejectionProposal draws candidates directly from the prior and applies the
// likelihood constraint. It is intractably slow at small prior volumes but
// exactly unbiased by construction, which makes it the reference proposal
// for uniformity testing and the engine of last resort.
type RejectionProposal struct {
	model     model.Model
	src       rand.Source
	batchSize int
	workers   int
	logger    *slog.Logger
}

// NewRejectionProposal creates a direct prior-rejection proposal.
// batchSize <= 0 defaults to 100; workers <= 1 evaluates sequentially.
func NewRejectionProposal(m model.Model, src rand.Source, batchSize, workers int, logger *slog.Logger) *RejectionProposal {
	if batchSize <= 0 {
		batchSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RejectionProposal{model: m, src: src, batchSize: batchSize, workers: workers, logger: logger}
}

// Propose draws until a point with log likelihood strictly above threshold
// is found or maxAttempts candidates have been evaluated.
func (p *RejectionProposal) Propose(ctx context.Context, threshold float64, maxAttempts int) (live.Point, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.batchSize
	}
	attempts := 0
	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return live.Point{}, err
		}
		n := p.batchSize
		if attempts+n > maxAttempts {
			n = maxAttempts - attempts
		}
		xs := p.model.SamplePrior(n, p.src)
		pt, used, ok := evaluateBatch(p.model, xs, threshold, p.workers, p.logger)
		attempts += used
		if ok {
			return pt, nil
		}
	}
	return live.Point{}, &ExhaustedError{Threshold: threshold, Attempts: attempts}
}
