package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidahmann/evalgate/core/errors"
	schemapipeline "github.com/davidahmann/evalgate/core/schema/v1/pipeline"
)

const defaultBatchWorkers = 4

// BatchItem pairs one transcript's run with its terminal error. Items keep
// the input order, so callers can line results up with their transcripts.
type BatchItem struct {
	Run schemapipeline.PipelineRun
	Err error
}

// RunMany executes one run per transcript with at most workers runs in
// flight. Stages inside each run stay strictly sequential and run state is
// private to its worker; a failed run fills its slot without aborting the
// rest of the batch.
func (o *Orchestrator) RunMany(ctx context.Context, transcripts []string, config Config, opts RunOptions, workers int) ([]BatchItem, error) {
	if opts.RunID != "" {
		return nil, errors.Wrap(fmt.Errorf("run_id cannot be fixed for a batch"),
			errors.CategoryInvalidInput, "batch_run_id_fixed", "leave run_id empty so every run gets its own", false)
	}
	if workers <= 0 {
		workers = defaultBatchWorkers
	}

	items := make([]BatchItem, len(transcripts))
	sem := make(chan struct{}, workers)
	wg := sync.WaitGroup{}
	for index, transcript := range transcripts {
		wg.Add(1)
		go func(index int, transcript string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				items[index] = BatchItem{Err: fmt.Errorf("run not started: %w", ctx.Err())}
				return
			default:
			}

			run, err := o.Run(ctx, transcript, config, opts)
			items[index] = BatchItem{Run: run, Err: err}
		}(index, transcript)
	}
	wg.Wait()
	return items, nil
}
