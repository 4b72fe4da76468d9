// Package checkpoint keeps a ledger of converted IXF files so batch and
// watch runs skip inputs that were already converted unchanged.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// Phase is the state of a ledger entry.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

var (
	// ErrAlreadyConverted is returned by Begin when an unchanged input
	// already has a complete entry for the format.
	ErrAlreadyConverted = errors.New("input already converted")

	// ErrLocked is returned by Begin when another worker holds the input.
	ErrLocked = errors.New("input locked by another worker")
)

// Entry records one conversion of an input to a format.
type Entry struct {
	ID          string `json:"id"`
	Input       string `json:"input"`
	Fingerprint string `json:"fingerprint"`
	Output      string `json:"output"`
	Format      string `json:"format"`

	Phase     Phase  `json:"phase"`
	Healthy   int64  `json:"healthy"`
	Corrupted int64  `json:"corrupted"`
	Error     string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	lock Releaser
}

// Key identifies the entries of one input and format.
func (e *Entry) Key() string { return Key(e.Input, e.Format) }

// Duration returns how long the conversion ran.
func (e *Entry) Duration() time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

// Key joins an input and a format into a ledger key.
func Key(input, format string) string { return format + "|" + input }

// Fingerprint identifies the content version of a local file by size and
// modification time.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}

// Releaser releases a lock taken on an input.
type Releaser interface {
	Release(ctx context.Context) error
}

// Locker is implemented by backends shared between workers.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (Releaser, error)
}

// Ledger records conversions in a Backend.
type Ledger struct {
	backend Backend
	logger  log.Logger
	lockTTL time.Duration
}

// New creates a ledger over backend.
func New(backend Backend, logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ledger{backend: backend, logger: logger, lockTTL: 30 * time.Minute}
}

// Backend returns the backend of the ledger.
func (l *Ledger) Backend() Backend { return l.backend }

// Begin records the start of a conversion. It returns ErrAlreadyConverted
// when the same fingerprint was already converted to format, and
// ErrLocked when another worker is converting it.
func (l *Ledger) Begin(ctx context.Context, input, fingerprint, output, format string) (*Entry, error) {
	prev, err := l.backend.FindByInput(ctx, input, format)
	switch {
	case err == nil:
		if prev.Phase == PhaseComplete && prev.Fingerprint == fingerprint {
			level.Debug(l.logger).Log("msg", "skipping converted input", "input", input, "format", format, "id", prev.ID)
			return prev, ErrAlreadyConverted
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, ixferrors.Wrap(err, ixferrors.CodeInvalidState, "read ledger").
			WithContext("input", input)
	}

	now := time.Now()
	e := &Entry{
		ID:          uuid.NewString(),
		Input:       input,
		Fingerprint: fingerprint,
		Output:      output,
		Format:      format,
		Phase:       PhaseRunning,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	if locker, ok := l.backend.(Locker); ok {
		lock, err := locker.AcquireLock(ctx, e.Key(), l.lockTTL)
		if err != nil {
			return nil, err
		}
		e.lock = lock
	}

	if err := l.backend.Save(ctx, e); err != nil {
		l.release(ctx, e)
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "write ledger").
			WithContext("input", input)
	}
	level.Debug(l.logger).Log("msg", "conversion started", "input", input, "format", format, "id", e.ID)
	return e, nil
}

// Finish records the outcome of a conversion started with Begin.
func (l *Ledger) Finish(ctx context.Context, e *Entry, healthy, corrupted int64, convErr error) error {
	defer l.release(ctx, e)

	now := time.Now()
	e.Healthy = healthy
	e.Corrupted = corrupted
	e.UpdatedAt = now
	if convErr != nil {
		e.Phase = PhaseFailed
		e.Error = convErr.Error()
	} else {
		e.Phase = PhaseComplete
		e.CompletedAt = &now
	}

	if err := l.backend.Save(ctx, e); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "write ledger").
			WithContext("input", e.Input)
	}
	level.Debug(l.logger).Log("msg", "conversion recorded", "input", e.Input, "phase", e.Phase, "id", e.ID)
	return nil
}

// Incomplete returns entries left running or failed.
func (l *Ledger) Incomplete(ctx context.Context) ([]*Entry, error) {
	return l.backend.ListIncomplete(ctx)
}

// Forget removes the entry of input for format so the next run converts
// it again.
func (l *Ledger) Forget(ctx context.Context, input, format string) error {
	e, err := l.backend.FindByInput(ctx, input, format)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.backend.Delete(ctx, e.ID)
}

// Close closes the backend.
func (l *Ledger) Close() error { return l.backend.Close() }

func (l *Ledger) release(ctx context.Context, e *Entry) {
	if e.lock == nil {
		return
	}
	if err := e.lock.Release(context.WithoutCancel(ctx)); err != nil {
		level.Warn(l.logger).Log("msg", "release ledger lock", "input", e.Input, "err", err)
	}
	e.lock = nil
}
