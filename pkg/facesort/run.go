package facesort

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Run processes a tier's models as independent work-groups, at most
// GOMAXPROCS at a time. Models must write disjoint output ranges. The first
// failing model cancels the rest.
func Run(ctx context.Context, tier Tier, shape Shape, models []ModelInfo, in *Inputs, uni *Uniform, out *Outputs) error {
	if tier.Sorted() && uni == nil {
		return fmt.Errorf("facesort: %s tier needs a uniform", tier)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, m := range models {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var err error
			if tier.Sorted() {
				err = SortModel(m, shape, in, uni, out)
			} else {
				err = UnorderedModel(m, shape, in, out)
			}
			if err != nil {
				return fmt.Errorf("model %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
