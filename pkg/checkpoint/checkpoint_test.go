package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (*Ledger, *FileBackend) {
	t.Helper()
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	return New(b, nil), b
}

func TestLedger_SkipsConvertedInput(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	e, err := l.Begin(ctx, "/in/SALES.IXF", "10-1", "/out/sales.csv", "csv")
	require.NoError(t, err)
	require.Equal(t, PhaseRunning, e.Phase)
	require.NoError(t, l.Finish(ctx, e, 10, 0, nil))

	prev, err := l.Begin(ctx, "/in/SALES.IXF", "10-1", "/out/sales.csv", "csv")
	require.ErrorIs(t, err, ErrAlreadyConverted)
	require.Equal(t, e.ID, prev.ID)
	require.EqualValues(t, 10, prev.Healthy)
	require.NotNil(t, prev.CompletedAt)

	// another format is a separate conversion
	_, err = l.Begin(ctx, "/in/SALES.IXF", "10-1", "/out/sales.parquet", "parquet")
	require.NoError(t, err)
}

func TestLedger_ChangedInputIsConvertedAgain(t *testing.T) {
	ctx := context.Background()
	l, b := newLedger(t)

	e, err := l.Begin(ctx, "/in/A.IXF", "10-1", "/out/a.csv", "csv")
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, e, 1, 0, nil))

	e2, err := l.Begin(ctx, "/in/A.IXF", "20-2", "/out/a.csv", "csv")
	require.NoError(t, err)
	require.NotEqual(t, e.ID, e2.ID)

	// the older entry is replaced
	_, err = b.Load(ctx, e.ID)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLedger_FailedConversion(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	e, err := l.Begin(ctx, "/in/B.IXF", "1-1", "/out/b.json", "json")
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, e, 3, 5, errors.New("corruption rate exceeded")))

	inc, err := l.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, inc, 1)
	require.Equal(t, PhaseFailed, inc[0].Phase)
	require.Equal(t, "corruption rate exceeded", inc[0].Error)

	// failed inputs are retried
	_, err = l.Begin(ctx, "/in/B.IXF", "1-1", "/out/b.json", "json")
	require.NoError(t, err)
}

func TestLedger_Forget(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	e, err := l.Begin(ctx, "/in/C.IXF", "1-1", "/out/c.csv", "csv")
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, e, 1, 0, nil))
	require.NoError(t, l.Forget(ctx, "/in/C.IXF", "csv"))
	require.NoError(t, l.Forget(ctx, "/in/C.IXF", "csv"))

	_, err = l.Begin(ctx, "/in/C.IXF", "1-1", "/out/c.csv", "csv")
	require.NoError(t, err)
}

type stubLocker struct {
	*FileBackend
	held map[string]bool
}

type stubRelease struct {
	held map[string]bool
	key  string
}

func (r stubRelease) Release(context.Context) error {
	delete(r.held, r.key)
	return nil
}

func (s *stubLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (Releaser, error) {
	if s.held[key] {
		return nil, ErrLocked
	}
	s.held[key] = true
	return stubRelease{held: s.held, key: key}, nil
}

func TestLedger_Locking(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	locker := &stubLocker{FileBackend: fb, held: map[string]bool{}}
	l := New(locker, nil)

	e, err := l.Begin(ctx, "/in/D.IXF", "1-1", "/out/d.csv", "csv")
	require.NoError(t, err)

	_, err = l.Begin(ctx, "/in/D.IXF", "1-1", "/out/d.csv", "csv")
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Finish(ctx, e, 1, 0, nil))
	require.Empty(t, locker.held)
}

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.IXF")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	require.Regexp(t, `^3-\d+$`, fp)

	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0o644))
	fp2, err := Fingerprint(path)
	require.NoError(t, err)
	require.NotEqual(t, fp, fp2)

	_, err = Fingerprint(filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("DB2IXF_TEST_REDIS")
	if addr == "" {
		t.Skip("DB2IXF_TEST_REDIS not set")
	}
	ctx := context.Background()
	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = "db2ixf-test:" + time.Now().Format("150405.000") + ":"
	b, err := NewRedisBackend(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	l := New(b, nil)
	e, err := l.Begin(ctx, "/in/R.IXF", "1-1", "/out/r.csv", "csv")
	require.NoError(t, err)

	_, err = l.Begin(ctx, "/in/R.IXF", "1-1", "/out/r.csv", "csv")
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Finish(ctx, e, 2, 0, nil))
	_, err = l.Begin(ctx, "/in/R.IXF", "1-1", "/out/r.csv", "csv")
	require.ErrorIs(t, err, ErrAlreadyConverted)

	inc, err := l.Incomplete(ctx)
	require.NoError(t, err)
	require.Empty(t, inc)

	require.NoError(t, l.Forget(ctx, "/in/R.IXF", "csv"))
	_, err = b.FindByInput(ctx, "/in/R.IXF", "csv")
	require.ErrorIs(t, err, os.ErrNotExist)
}
