package resample

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ConvertChunksParallel resamples independent chunks concurrently and
// returns results in input order. workers <= 0 means one worker per CPU.
// The first conversion error cancels the remaining work.
func ConvertChunksParallel(ctx context.Context, e *Engine, chunks [][]int16, srcRate, dstRate int, uc UseCase, workers int) ([][]int16, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([][]int16, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			converted, _, err := e.ConvertFor(chunk, srcRate, dstRate, uc)
			if err != nil {
				return err
			}
			out[i] = converted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
