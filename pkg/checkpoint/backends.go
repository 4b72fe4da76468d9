package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend defines the interface for ledger storage backends.
type Backend interface {
	// Save persists an entry.
	Save(ctx context.Context, e *Entry) error

	// Load retrieves an entry by ID. Missing entries return os.ErrNotExist.
	Load(ctx context.Context, id string) (*Entry, error)

	// Delete removes an entry.
	Delete(ctx context.Context, id string) error

	// FindByInput returns the latest entry of input for format.
	FindByInput(ctx context.Context, input, format string) (*Entry, error)

	// ListIncomplete returns all entries that did not complete.
	ListIncomplete(ctx context.Context) ([]*Entry, error)

	// Name returns the backend name for logging.
	Name() string

	Close() error
}

const entryExt = ".checkpoint"

// FileBackend stores one JSON file per entry in a directory.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates a backend in dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+entryExt)
}

// Save writes the entry to a temp file and renames it into place.
func (b *FileBackend) Save(_ context.Context, e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path(e.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path(e.ID)); err != nil {
		os.Remove(tmp)
		return err
	}

	// only the latest entry per key is kept
	entries, err := b.scan()
	if err != nil {
		return err
	}
	for _, old := range entries {
		if old.ID != e.ID && old.Key() == e.Key() {
			os.Remove(b.path(old.ID))
		}
	}
	return nil
}

// Load reads an entry from disk.
func (b *FileBackend) Load(_ context.Context, id string) (*Entry, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry file.
func (b *FileBackend) Delete(_ context.Context, id string) error {
	err := os.Remove(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// FindByInput scans the directory for the entry of input and format.
func (b *FileBackend) FindByInput(_ context.Context, input, format string) (*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	var found *Entry
	for _, e := range entries {
		if e.Input == input && e.Format == format {
			if found == nil || e.UpdatedAt.After(found.UpdatedAt) {
				found = e
			}
		}
	}
	if found == nil {
		return nil, os.ErrNotExist
	}
	return found, nil
}

// ListIncomplete returns running and failed entries.
func (b *FileBackend) ListIncomplete(_ context.Context) ([]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if e.Phase != PhaseComplete {
			out = append(out, e)
		}
	}
	return out, nil
}

// scan reads every entry in the directory. Unreadable files are skipped.
func (b *FileBackend) scan() ([]*Entry, error) {
	files, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var out []*Entry
	for _, f := range files {
		if filepath.Ext(f.Name()) != entryExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
