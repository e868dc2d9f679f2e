package classify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ClassifyBatch classifies inputs one after another. Output i belongs to input i.
func ClassifyBatch(ctx context.Context, c Classifier, inputs []Input) []Output {
	out := make([]Output, len(inputs))
	for i, in := range inputs {
		out[i] = c.Classify(ctx, in)
	}
	return out
}

// ClassifyConcurrent classifies inputs with at most workers calls in flight.
// Results are stored by input index, so output order matches input order
// whatever the completion order.
func ClassifyConcurrent(ctx context.Context, c Classifier, inputs []Input, workers int) []Output {
	if workers <= 1 || len(inputs) <= 1 {
		return ClassifyBatch(ctx, c, inputs)
	}

	out := make([]Output, len(inputs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, in := range inputs {
		g.Go(func() error {
			out[i] = c.Classify(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
