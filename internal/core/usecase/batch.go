package usecase

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

// Batch runs independent requests on a bounded number of workers.
type Batch struct {
	pipeline *Pipeline
	workers  int
}

func NewBatch(pipeline *Pipeline, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batch{pipeline: pipeline, workers: workers}
}

// Run returns one outcome per request, in request order.
func (b *Batch) Run(ctx context.Context, reqs []Request) []domain.ValidationOutcome {
	outcomes := make([]domain.ValidationOutcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = b.pipeline.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
