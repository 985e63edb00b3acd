package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs independent requests concurrently, at most the configured
// concurrency at a time. results[i] belongs to reqs[i] and is nil when that
// request errored; one request's error does not cancel the others. The
// returned error joins every per-request error.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = fmt.Errorf("request %d: %w", i, err)
				return nil
			}
			res, err := p.Run(ctx, reqs[i])
			if err != nil {
				errs[i] = fmt.Errorf("request %d: %w", i, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	p.logger.InfoContext(ctx, "batch finished", "requests", len(reqs), "concurrency", p.concurrency)
	return results, errors.Join(errs...)
}
