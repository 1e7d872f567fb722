package solver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/optimization"
)

// Pool fans a multi-wavelength job out as single-wavelength sub-jobs run
// concurrently against the inner adapter, then merges the resulting fields
// back onto the original wavelength grid. The first sub-job failure cancels
// the rest.
type Pool struct {
	Inner Adapter
	// Workers caps concurrent sub-jobs. Zero or negative means unlimited.
	Workers int
}

// Submit runs the job, one solve per wavelength.
func (p *Pool) Submit(ctx context.Context, job *SimulationJob) (*field.Field, error) {
	wavelengths := job.Config.Wavelengths
	if len(wavelengths) == 0 {
		return nil, optimization.NewError("job has no wavelengths").
			WithComponent("solver_pool")
	}
	if len(wavelengths) == 1 {
		return p.Inner.Submit(ctx, job)
	}

	parts := make([]*field.Field, len(wavelengths))
	g, gctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for i := range wavelengths {
		i := i
		g.Go(func() error {
			sub, err := job.WithWavelengths(i, wavelengths[i:i+1])
			if err != nil {
				return err
			}
			result, err := p.Inner.Submit(gctx, sub)
			if err != nil {
				return err
			}
			parts[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return field.MergeWavelengths(parts)
}
