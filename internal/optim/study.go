package optim

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/patchsim/internal/antenna"
)

// Study evaluates specs concurrently with at most limit runs in flight.
// Size limit to the session pool so each in-flight run holds its own
// engine seat. Trials come back in input order.
func Study(ctx context.Context, eval Evaluator, specs []antenna.DesignSpec, objective Objective, limit int) ([]Trial, error) {
	if limit <= 0 {
		limit = 1
	}
	trials := make([]Trial, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, spec := range specs {
		g.Go(func() error {
			t, err := evaluate(gctx, eval, spec, objective, i)
			trials[i] = t
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return trials, err
	}
	return trials, nil
}

// Best returns the lowest scoring trial. ok is false when trials is empty.
func Best(trials []Trial) (best Trial, ok bool) {
	for i, t := range trials {
		if i == 0 || t.Score < best.Score {
			best, ok = t, true
		}
	}
	return best, ok
}
