package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Problem describes one inverse-design optimization: the simulated span,
// the wavelength sweep, the design parametrization, the figure of merit and
// the optimizer settings. Problems arrive as YAML files or API payloads.
type Problem struct {
	Name        string          `yaml:"name"`
	Wavelengths WavelengthRange `yaml:"wavelengths"`
	Simulation  Simulation      `yaml:"simulation"`
	Source      Source          `yaml:"source"`
	FOM         FOMSpec         `yaml:"fom"`
	Slabs       *SlabSpec       `yaml:"slabs"`
	Optimizer   OptimizerSpec   `yaml:"optimizer"`
	Run         RunSpec         `yaml:"run"`
}

// WavelengthRange expands to an inclusive linear sweep. Points of 1 ignores
// Stop.
type WavelengthRange struct {
	Start  float64 `yaml:"start"`
	Stop   float64 `yaml:"stop"`
	Points int     `yaml:"points"`
}

// Values materializes the sweep.
func (w WavelengthRange) Values() []float64 {
	if w.Points <= 1 {
		return []float64{w.Start}
	}
	out := make([]float64, w.Points)
	step := (w.Stop - w.Start) / float64(w.Points-1)
	for i := range out {
		out[i] = w.Start + float64(i)*step
	}
	return out
}

// Simulation configures the simulated domain and resolution.
type Simulation struct {
	XMin         float64 `yaml:"x_min"`
	XMax         float64 `yaml:"x_max"`
	Cells        int     `yaml:"cells"`
	DampCells    int     `yaml:"damp_cells,omitempty"`
	DampStrength float64 `yaml:"damp_strength,omitempty"`
}

// Source is the physical excitation of forward runs.
type Source struct {
	Position float64 `yaml:"position"`
}

// FOMSpec selects and configures the figure of merit.
type FOMSpec struct {
	// Kind is "mode_overlap" or "transmission".
	Kind    string   `yaml:"kind"`
	Monitor Region   `yaml:"monitor"`
	Mode    *ModeRef `yaml:"mode,omitempty"`
	// Weighting is "uniform" (default) or "sum".
	Weighting string `yaml:"weighting,omitempty"`
}

// Region is an x-axis span.
type Region struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
}

// ModeRef configures the Gaussian target mode of a mode_overlap FOM.
type ModeRef struct {
	Center float64 `yaml:"center"`
	Width  float64 `yaml:"width"`
}

// SlabSpec parametrizes the design as a stack of dielectric layers.
type SlabSpec struct {
	EpsIn    float64     `yaml:"eps_in"`
	EpsOut   float64     `yaml:"eps_out"`
	MinWidth float64     `yaml:"min_width,omitempty"`
	Layers   []LayerSpec `yaml:"layers"`
}

// LayerSpec is one layer's starting point and box constraints.
type LayerSpec struct {
	Center       float64    `yaml:"center"`
	Width        float64    `yaml:"width"`
	CenterBounds [2]float64 `yaml:"center_bounds"`
	WidthBounds  [2]float64 `yaml:"width_bounds"`
}

// OptimizerSpec tunes the adaptive gradient method.
type OptimizerSpec struct {
	// Direction is "maximize" (default) or "minimize".
	Direction    string  `yaml:"direction,omitempty"`
	InitialStep  float64 `yaml:"initial_step"`
	MinStep      float64 `yaml:"min_step"`
	MaxStep      float64 `yaml:"max_step,omitempty"`
	GrowthFactor float64 `yaml:"growth_factor,omitempty"`
}

// RunSpec bounds the optimization loop.
type RunSpec struct {
	MaxIterations     int     `yaml:"max_iterations"`
	FOMTolerance      float64 `yaml:"fom_tolerance,omitempty"`
	GradientTolerance float64 `yaml:"gradient_tolerance,omitempty"`
	MaxSolverFailures int     `yaml:"max_solver_failures,omitempty"`
}

// LoadProblem loads and parses a problem file
func LoadProblem(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file %s: %w", path, err)
	}
	problem, err := ParseProblemYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse problem file %s: %w", path, err)
	}
	return problem, nil
}

// ParseProblemYAML parses a Problem from YAML bytes and validates it.
// This is used for APIs where the problem is provided as payload.
func ParseProblemYAML(data []byte) (*Problem, error) {
	var problem Problem
	if err := yaml.Unmarshal(data, &problem); err != nil {
		return nil, fmt.Errorf("failed to parse problem yaml: %w", err)
	}
	if err := validateProblem(&problem); err != nil {
		return nil, fmt.Errorf("invalid problem: %w", err)
	}
	return &problem, nil
}

// validateProblem performs validation on the problem definition
func validateProblem(p *Problem) error {
	if p.Wavelengths.Start <= 0 {
		return fmt.Errorf("wavelengths.start must be positive")
	}
	if p.Wavelengths.Points > 1 && p.Wavelengths.Stop <= p.Wavelengths.Start {
		return fmt.Errorf("wavelengths.stop must exceed wavelengths.start for a sweep")
	}
	if p.Simulation.XMax <= p.Simulation.XMin {
		return fmt.Errorf("simulation span [%g, %g] is empty", p.Simulation.XMin, p.Simulation.XMax)
	}
	if p.Source.Position < p.Simulation.XMin || p.Source.Position > p.Simulation.XMax {
		return fmt.Errorf("source position %g lies outside the simulation span", p.Source.Position)
	}

	switch p.FOM.Kind {
	case "mode_overlap":
		if p.FOM.Mode == nil {
			return fmt.Errorf("fom kind mode_overlap requires a mode section")
		}
		if p.FOM.Mode.Width <= 0 {
			return fmt.Errorf("mode width must be positive")
		}
	case "transmission":
	default:
		return fmt.Errorf("unknown fom kind: %s (must be mode_overlap or transmission)", p.FOM.Kind)
	}
	if p.FOM.Monitor.XMax <= p.FOM.Monitor.XMin {
		return fmt.Errorf("monitor region [%g, %g] is empty", p.FOM.Monitor.XMin, p.FOM.Monitor.XMax)
	}
	switch p.FOM.Weighting {
	case "", "uniform", "sum":
	default:
		return fmt.Errorf("unknown weighting: %s (must be uniform or sum)", p.FOM.Weighting)
	}

	if p.Slabs == nil {
		return fmt.Errorf("a slabs parametrization is required")
	}
	if len(p.Slabs.Layers) == 0 {
		return fmt.Errorf("slabs parametrization needs at least one layer")
	}
	if p.Slabs.EpsIn <= 0 || p.Slabs.EpsOut <= 0 {
		return fmt.Errorf("slab permittivities must be positive")
	}
	for i, layer := range p.Slabs.Layers {
		if layer.CenterBounds[1] <= layer.CenterBounds[0] {
			return fmt.Errorf("layer %d: center_bounds range is not positive", i)
		}
		if layer.WidthBounds[1] <= layer.WidthBounds[0] {
			return fmt.Errorf("layer %d: width_bounds range is not positive", i)
		}
	}

	switch p.Optimizer.Direction {
	case "", "maximize", "minimize":
	default:
		return fmt.Errorf("unknown optimizer direction: %s (must be maximize or minimize)", p.Optimizer.Direction)
	}
	if p.Optimizer.InitialStep <= 0 {
		return fmt.Errorf("optimizer initial_step must be positive")
	}
	if p.Optimizer.MinStep <= 0 {
		return fmt.Errorf("optimizer min_step must be positive")
	}

	if p.Run.MaxIterations <= 0 {
		return fmt.Errorf("run max_iterations must be positive")
	}
	return nil
}

// InitialParams flattens the layer starting values into the parameter
// vector order consumed by the parametrization.
func (s *SlabSpec) InitialParams() []float64 {
	params := make([]float64, 0, 2*len(s.Layers))
	for _, layer := range s.Layers {
		params = append(params, layer.Center, layer.Width)
	}
	return params
}

// ParamBounds flattens the per-layer box constraints.
func (s *SlabSpec) ParamBounds() [][2]float64 {
	bounds := make([][2]float64, 0, 2*len(s.Layers))
	for _, layer := range s.Layers {
		bounds = append(bounds, layer.CenterBounds, layer.WidthBounds)
	}
	return bounds
}
