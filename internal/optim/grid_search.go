package optim

import (
	"context"
	"fmt"

	"github.com/san-kum/patchsim/internal/antenna"
)

// GridSearch evaluates the cartesian product of candidate values.
type GridSearch struct {
	fields []Field
	values [][]float64
}

func NewGridSearch(fields []Field, values [][]float64) (*GridSearch, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("%w: %d fields, %d value lists", ErrInvalidBounds, len(fields), len(values))
	}
	for i, f := range fields {
		if _, err := ParseField(string(f)); err != nil {
			return nil, err
		}
		if len(values[i]) == 0 {
			return nil, fmt.Errorf("%w: no values for %s", ErrInvalidBounds, f)
		}
	}
	return &GridSearch{fields: fields, values: values}, nil
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, v := range g.values {
		n *= len(v)
	}
	return n
}

// Candidates expands the grid around base. The last field varies fastest.
func (g *GridSearch) Candidates(base antenna.DesignSpec) []antenna.DesignSpec {
	out := make([]antenna.DesignSpec, 0, g.Size())
	g.expand(0, base, &out)
	return out
}

func (g *GridSearch) expand(depth int, current antenna.DesignSpec, out *[]antenna.DesignSpec) {
	if depth == len(g.fields) {
		*out = append(*out, current)
		return
	}
	f := g.fields[depth]
	for _, v := range g.values[depth] {
		g.expand(depth+1, f.set(current, v), out)
	}
}

// Search runs every candidate through Study and returns the best trial.
// Failed runs are kept in the trial list with Penalty scores.
func (g *GridSearch) Search(ctx context.Context, eval Evaluator, base antenna.DesignSpec, objective Objective, limit int) (*Result, error) {
	trials, err := Study(ctx, eval, g.Candidates(base), objective, limit)
	res := &Result{Trials: trials}
	if best, ok := Best(trials); ok {
		res.Best = best
	}
	return res, err
}
