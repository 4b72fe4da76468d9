package sinks

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

var errNotOpen = ixferrors.New(ixferrors.CodeInvalidState, "sink not open")

// atomicFile is written under a temporary name next to its final path
// and renamed into place on commit.
type atomicFile struct {
	path    string
	tmpPath string
	f       *os.File
}

func tempPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+".tmp-"+uuid.NewString())
}

func createAtomic(path string) (*atomicFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create directory").
			WithContext("path", path)
	}
	tmp := tempPath(path)
	f, err := os.Create(tmp)
	if err != nil {
		return nil, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create temp file").
			WithContext("path", tmp)
	}
	return &atomicFile{path: path, tmpPath: tmp, f: f}, nil
}

func (a *atomicFile) Write(p []byte) (int, error) {
	return a.f.Write(p)
}

// commit syncs, closes and renames the file, returning its size.
func (a *atomicFile) commit() (int64, error) {
	if a.f != nil {
		if err := a.f.Sync(); err != nil {
			a.abort()
			return 0, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to sync output")
		}
		if err := a.f.Close(); err != nil {
			a.f = nil
			a.abort()
			return 0, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to close output")
		}
		a.f = nil
	}
	return renameInto(a.tmpPath, a.path)
}

func (a *atomicFile) abort() error {
	if a.f != nil {
		a.f.Close()
		a.f = nil
	}
	if err := os.Remove(a.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// renameInto moves tmp to path and returns the size of path.
func renameInto(tmp, path string) (int64, error) {
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to rename temp file to final path").
			WithContext("path", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, nil
	}
	return info.Size(), nil
}
