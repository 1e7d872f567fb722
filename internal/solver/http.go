package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prismlabs/PRISM/internal/field"
	"github.com/prismlabs/PRISM/internal/geometry"
)

// HTTPAdapter submits jobs to a remote field engine over its JSON API.
type HTTPAdapter struct {
	Endpoint string
	Client   *http.Client
	Logger   *zap.Logger
	// SessionID tags jobs with the engine session they run under. Empty
	// submits sessionless.
	SessionID string
}

func (a *HTTPAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *HTTPAdapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Wire types of the engine API. Complex arrays travel as parallel real and
// imaginary slices.

type jobPayload struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Geometry    geometryPayload `json:"geometry"`
	Source      sourcePayload   `json:"source"`
	Wavelengths []float64       `json:"wavelengths"`
	MeshCells   int             `json:"mesh_cells,omitempty"`
}

type geometryPayload struct {
	EpsBackground float64          `json:"eps_background"`
	MeshHint      float64          `json:"mesh_hint,omitempty"`
	Slabs         []slabPayload    `json:"slabs,omitempty"`
	Polygons      []polygonPayload `json:"polygons,omitempty"`
}

type slabPayload struct {
	X0    float64 `json:"x0"`
	X1    float64 `json:"x1"`
	EpsIn float64 `json:"eps_in"`
}

type polygonPayload struct {
	Vertices [][2]float64 `json:"vertices"`
	EpsIn    float64      `json:"eps_in"`
	Z        float64      `json:"z"`
	Depth    float64      `json:"depth"`
}

type sourcePayload struct {
	Kind       string        `json:"kind"`
	Position   float64       `json:"position,omitempty"`
	Amplitudes *fieldPayload `json:"amplitudes,omitempty"`
}

type fieldPayload struct {
	X           []float64 `json:"x"`
	Y           []float64 `json:"y"`
	Z           []float64 `json:"z"`
	Wavelengths []float64 `json:"wavelengths"`
	Re          []float64 `json:"re"`
	Im          []float64 `json:"im"`
}

type resultPayload struct {
	Field  *fieldPayload `json:"field,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Submit posts the job and decodes the resulting field. A 503 maps to
// *UnavailableError, a 422 to *DivergedError; deadline expiry surfaces as
// context.DeadlineExceeded for the retry layer to classify.
func (a *HTTPAdapter) Submit(ctx context.Context, job *SimulationJob) (*field.Field, error) {
	payload, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job %s: %w", job.ID, err)
	}

	url := a.Endpoint + "/api/v1/simulations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.SessionID != "" {
		req.Header.Set("X-Session-ID", a.SessionID)
	}

	start := time.Now()
	resp, err := a.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UnavailableError{Endpoint: a.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Endpoint: a.Endpoint, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, &UnavailableError{
			Endpoint: a.Endpoint,
			Err:      fmt.Errorf("engine busy: %s", bytes.TrimSpace(raw)),
		}
	case http.StatusUnprocessableEntity:
		var result resultPayload
		_ = json.Unmarshal(raw, &result)
		return nil, &DivergedError{JobID: job.ID, Detail: result.Detail}
	default:
		return nil, fmt.Errorf("simulation %s: engine returned %s: %s",
			job.ID, resp.Status, bytes.TrimSpace(raw))
	}

	var result resultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding result for %s: %w", job.ID, err)
	}
	if result.Field == nil {
		return nil, fmt.Errorf("simulation %s: engine returned no field", job.ID)
	}
	decoded, err := decodeField(result.Field)
	if err != nil {
		return nil, fmt.Errorf("decoding result for %s: %w", job.ID, err)
	}

	a.logger().Debug("simulation complete",
		zap.String("job", job.ID),
		zap.Stringer("kind", job.Kind),
		zap.Duration("elapsed", time.Since(start)),
	)
	return decoded, nil
}

func encodeJob(job *SimulationJob) (*jobPayload, error) {
	p := &jobPayload{
		ID:          job.ID,
		Kind:        job.Kind.String(),
		Wavelengths: job.Config.Wavelengths,
		MeshCells:   job.Config.MeshCells,
	}
	if job.Geometry != nil {
		p.Geometry.EpsBackground = job.Geometry.EpsBackground
		p.Geometry.MeshHint = job.Geometry.MeshHint
		for _, s := range job.Geometry.Shapes {
			switch shape := s.(type) {
			case *geometry.Slab:
				p.Geometry.Slabs = append(p.Geometry.Slabs, slabPayload{
					X0: shape.X0, X1: shape.X1, EpsIn: shape.EpsIn,
				})
			case *geometry.Polygon:
				p.Geometry.Polygons = append(p.Geometry.Polygons, polygonPayload{
					Vertices: shape.Vertices,
					EpsIn:    shape.EpsIn,
					Z:        shape.Z,
					Depth:    shape.Depth,
				})
			default:
				return nil, fmt.Errorf("job %s: shape %T has no wire form", job.ID, s)
			}
		}
	}
	switch job.Source.Kind {
	case SourcePoint:
		p.Source = sourcePayload{Kind: "point", Position: job.Source.Position}
	case SourceProfile:
		if job.Source.Amplitudes == nil {
			return nil, fmt.Errorf("job %s: profile source has no amplitudes", job.ID)
		}
		p.Source = sourcePayload{Kind: "profile", Amplitudes: encodeField(job.Source.Amplitudes)}
	}
	return p, nil
}

func encodeField(f *field.Field) *fieldPayload {
	p := &fieldPayload{
		X:           f.Grid.X,
		Y:           f.Grid.Y,
		Z:           f.Grid.Z,
		Wavelengths: f.Grid.Wavelengths,
		Re:          make([]float64, len(f.E)),
		Im:          make([]float64, len(f.E)),
	}
	for i, v := range f.E {
		p.Re[i] = real(v)
		p.Im[i] = imag(v)
	}
	return p
}

type sessionPayload struct {
	ID string `json:"id"`
}

// HTTPOpener leases engine sessions over the JSON API. A session pins
// engine-side state (a license seat, a warmed mesh cache) for one run;
// the lease is released with a DELETE when the session closes.
type HTTPOpener struct {
	Endpoint string
	Client   *http.Client
	Logger   *zap.Logger
}

func (o *HTTPOpener) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o *HTTPOpener) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Open acquires a session lease from the engine.
func (o *HTTPOpener) Open(ctx context.Context) (*Session, error) {
	url := o.Endpoint + "/api/v1/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UnavailableError{Endpoint: o.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Endpoint: o.Endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &UnavailableError{
			Endpoint: o.Endpoint,
			Err:      fmt.Errorf("session request returned %s: %s", resp.Status, bytes.TrimSpace(raw)),
		}
	}
	var session sessionPayload
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decoding session lease: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("engine returned an empty session id")
	}

	o.logger().Debug("session opened", zap.String("session", session.ID))
	adapter := &HTTPAdapter{
		Endpoint:  o.Endpoint,
		Client:    o.Client,
		Logger:    o.Logger,
		SessionID: session.ID,
	}
	return NewSession(adapter, func() error {
		return o.release(session.ID)
	}, o.Logger), nil
}

// release runs on its own context: the lease must be returned even when the
// run that held it was cancelled.
func (o *HTTPOpener) release(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := o.Endpoint + "/api/v1/sessions/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client().Do(req)
	if err != nil {
		return &UnavailableError{Endpoint: o.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("releasing session %s: engine returned %s", id, resp.Status)
	}
	o.logger().Debug("session released", zap.String("session", id))
	return nil
}

func decodeField(p *fieldPayload) (*field.Field, error) {
	grid := field.NewGrid(p.X, p.Y, p.Z, p.Wavelengths)
	want := grid.NumPoints() * grid.NumWavelengths() * field.Components
	if len(p.Re) != want || len(p.Im) != want {
		return nil, fmt.Errorf("field has %d/%d samples, grid needs %d",
			len(p.Re), len(p.Im), want)
	}
	f := field.NewField(grid)
	for i := range f.E {
		f.E[i] = complex(p.Re[i], p.Im[i])
	}
	return f, nil
}
