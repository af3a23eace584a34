// Package storage persists capture text on a local medium (an SD card mount,
// a data directory). Driver is the file-level contract; Logs layers the
// rotating LOG-NNNN.txt set and the last-file index on top of it.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrNoSpace is returned when the medium is below its free-space floor.
	ErrNoSpace = errors.New("storage: insufficient free space")
	// ErrShortWrite is returned when a write stored fewer bytes than requested.
	ErrShortWrite = errors.New("storage: short write")
)

// Mode selects how Open treats an existing file.
type Mode int

const (
	ModeRead  Mode = iota
	ModeWrite      // create or truncate
	ModeAppend
)

// Handle is an open file.
type Handle interface {
	io.Reader
	io.Writer
	io.Closer
}

// Driver is the file-level storage contract. Paths are slash separated and
// relative to the driver's root.
type Driver interface {
	Exists(path string) bool
	Mkdir(path string) error
	Open(path string, mode Mode) (Handle, error)
	Size(path string) (int64, error)
}

// Dir is a Driver rooted at a local directory.
type Dir struct {
	Root string
	// MinFree refuses writes while fewer bytes are free (0 disables the check).
	MinFree uint64
}

// freeBytes is swapped in tests.
var freeBytes = diskFree

func (d Dir) abs(p string) string { return filepath.Join(d.Root, filepath.FromSlash(p)) }

func (d Dir) Exists(p string) bool {
	_, err := os.Stat(d.abs(p))
	return err == nil
}

func (d Dir) Mkdir(p string) error { return os.MkdirAll(d.abs(p), 0o755) }

func (d Dir) Open(p string, mode Mode) (Handle, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return nil, fmt.Errorf("storage: invalid mode %d", mode)
	}
	if mode != ModeRead && d.MinFree > 0 {
		free, err := freeBytes(d.Root)
		if err != nil {
			return nil, fmt.Errorf("storage: statfs %s: %w", d.Root, err)
		}
		if free < d.MinFree {
			return nil, fmt.Errorf("%w: %d bytes free, need %d", ErrNoSpace, free, d.MinFree)
		}
	}
	return os.OpenFile(d.abs(p), flag, 0o644)
}

func (d Dir) Size(p string) (int64, error) {
	fi, err := os.Stat(d.abs(p))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
