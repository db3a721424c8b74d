package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

const (
	// TempFilePrefix is the prefix used for temporary atomic write files.
	TempFilePrefix = "devbundle-tmp-"
)

// WriteFileAtomic writes data to a file atomically by writing to a temp file
// and then renaming it to the target filename.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	f, err := CreateAtomic(filename, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Discard()
		return err
	}
	return f.Commit()
}

// AtomicFile stages content in a temp file next to its destination. Nothing
// is visible at the destination until Commit renames the temp file over it.
type AtomicFile struct {
	dest   string
	perm   os.FileMode
	tmp    *os.File
	hash   *xxh3.Hasher
	n      int64
	closed bool
}

// CreateAtomic opens a temp file in the destination directory so the final
// rename stays on one filesystem.
func CreateAtomic(filename string, perm os.FileMode) (*AtomicFile, error) {
	dir := filepath.Dir(filename)

	tmp, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &AtomicFile{
		dest: filename,
		perm: perm,
		tmp:  tmp,
		hash: xxh3.New(),
	}, nil
}

// Write appends to the temp file.
func (f *AtomicFile) Write(p []byte) (int, error) {
	n, err := f.tmp.Write(p)
	f.n += int64(n)
	_, _ = f.hash.Write(p[:n])
	if err != nil {
		return n, fmt.Errorf("failed to write to temp file: %w", err)
	}
	return n, nil
}

// ReadFrom copies r into the temp file.
func (f *AtomicFile) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(struct{ io.Writer }{f}, r)
}

// Size is the number of bytes written so far.
func (f *AtomicFile) Size() int64 { return f.n }

// Digest is the xxh3 hash of the bytes written so far, as 16 hex characters.
func (f *AtomicFile) Digest() string {
	return fmt.Sprintf("%016x", f.hash.Sum64())
}

// TempName is the path of the staging file.
func (f *AtomicFile) TempName() string { return f.tmp.Name() }

// Commit syncs the temp file and renames it over the destination. The temp
// file is removed on any failure.
func (f *AtomicFile) Commit() error {
	if f.closed {
		return fmt.Errorf("atomic file %s already closed", f.dest)
	}
	f.closed = true
	defer os.Remove(f.tmp.Name()) // Clean up if we fail before rename

	if err := f.tmp.Sync(); err != nil {
		f.tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(f.tmp.Name(), f.perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(f.tmp.Name(), f.dest); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", f.dest, err)
	}

	return nil
}

// Discard drops the staged content. Safe to call after Commit.
func (f *AtomicFile) Discard() {
	if f.closed {
		return
	}
	f.closed = true
	f.tmp.Close()
	os.Remove(f.tmp.Name())
}
