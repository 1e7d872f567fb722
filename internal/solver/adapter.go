// Package solver defines the boundary to the external electromagnetic field
// engine: job descriptions, the adapter contract, the transient-error retry
// layer, a wavelength fan-out pool, and session lifetime management.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/geometry"
)

// RunKind distinguishes the two solves of one adjoint iteration.
type RunKind int

const (
	// ForwardRun excites the structure with the physical source.
	ForwardRun RunKind = iota
	// AdjointRun excites the structure with the synthetic adjoint source.
	AdjointRun
)

func (k RunKind) String() string {
	if k == AdjointRun {
		return "adjoint"
	}
	return "forward"
}

// SourceKind selects the excitation type of a simulation.
type SourceKind int

const (
	// SourcePoint injects a unit dipole at a fixed position, the physical
	// excitation of forward runs.
	SourcePoint SourceKind = iota
	// SourceProfile injects a spatial amplitude profile, used for adjoint
	// excitations derived from the FOM derivative.
	SourceProfile
)

// SourceSpec describes the excitation of a simulation job.
type SourceSpec struct {
	Kind SourceKind
	// Position is the injection point on the x axis for SourcePoint.
	Position float64
	// Amplitudes carries the excitation profile for SourceProfile; its
	// wavelength axis must match the job configuration.
	Amplitudes *field.Field
}

// SimConfig is the solver configuration shared by the forward and adjoint
// runs of one iteration.
type SimConfig struct {
	// Wavelengths to simulate, in meters.
	Wavelengths []float64
	// MeshCells overrides the solver's default spatial resolution when
	// positive.
	MeshCells int
	// Timeout bounds a single solve; zero disables the deadline.
	Timeout time.Duration
}

// SimulationJob is a single solve request. Jobs are immutable once
// submitted; derived jobs (wavelength sub-solves) are copies.
type SimulationJob struct {
	ID       string
	Kind     RunKind
	Geometry *geometry.Geometry
	Source   SourceSpec
	Config   SimConfig
}

// WithWavelengths derives a sub-job restricted to the given wavelength
// subset, slicing a profile source accordingly. wlIndex locates the subset
// inside the parent wavelength axis.
func (j *SimulationJob) WithWavelengths(wlIndex int, wavelengths []float64) (*SimulationJob, error) {
	sub := *j
	sub.ID = fmt.Sprintf("%s/wl%d", j.ID, wlIndex)
	sub.Config.Wavelengths = wavelengths
	if j.Source.Kind == SourceProfile && j.Source.Amplitudes != nil {
		if len(wavelengths) != 1 {
			return nil, &field.GridMismatchError{Detail: "profile sub-jobs must hold a single wavelength"}
		}
		amp, err := j.Source.Amplitudes.SelectWavelength(wlIndex)
		if err != nil {
			return nil, err
		}
		sub.Source.Amplitudes = amp
	}
	return &sub, nil
}

// Adapter submits a simulation job to a field engine and blocks until the
// field result is available or the solve fails.
//
// Implementations report *UnavailableError when the engine cannot be
// reached, *DivergedError when the simulation does not converge numerically
// and *TimeoutError when the configured deadline expires.
type Adapter interface {
	Submit(ctx context.Context, job *SimulationJob) (*field.Field, error)
}
