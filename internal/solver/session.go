package solver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/prismlabs/PRISM/internal/field"
)

// Opener hands out solver sessions. A session pins engine-side state (a
// license seat, a warmed mesh cache) for the lifetime of one optimization
// run.
type Opener interface {
	Open(ctx context.Context) (*Session, error)
}

// Session is a leased connection to the field engine. Submit is safe for
// concurrent use; Close is idempotent.
type Session struct {
	adapter Adapter
	release func() error
	logger  *zap.Logger

	once     sync.Once
	closeErr error
}

// NewSession wraps an adapter with an optional release hook.
func NewSession(adapter Adapter, release func() error, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{adapter: adapter, release: release, logger: logger}
}

// Submit forwards the job to the leased adapter.
func (s *Session) Submit(ctx context.Context, job *SimulationJob) (*field.Field, error) {
	return s.adapter.Submit(ctx, job)
}

// Close releases the lease. Further calls return the first result.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.closeErr = s.release()
		}
		if s.closeErr != nil {
			s.logger.Warn("session release failed", zap.Error(s.closeErr))
		}
	})
	return s.closeErr
}

// WithSession opens a session, runs fn with it and releases the lease when
// fn returns. fn's error wins over the release error.
func WithSession(ctx context.Context, opener Opener, fn func(*Session) error) error {
	session, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := fn(session); err != nil {
		return err
	}
	return session.Close()
}
