package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
)

const (
	LogDir    = "REGISTROS"
	SetupDir  = "SETUP"
	StateFile = "SETUP/state"
	stateKey  = "last_file"
)

// Logs manages the numbered capture files and the persisted last-file index.
type Logs struct {
	drv Driver
}

// OpenLogs prepares the directory layout on drv.
func OpenLogs(drv Driver) (*Logs, error) {
	for _, dir := range []string{LogDir, SetupDir} {
		if drv.Exists(dir) {
			continue
		}
		if err := drv.Mkdir(dir); err != nil {
			return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
		}
	}
	return &Logs{drv: drv}, nil
}

// Name returns the path of capture file idx.
func Name(idx int) string { return path.Join(LogDir, fmt.Sprintf("LOG-%04d.txt", idx)) }

// Create creates (or truncates) capture file idx.
func (l *Logs) Create(idx int) error {
	h, err := l.drv.Open(Name(idx), ModeWrite)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", Name(idx), err)
	}
	return h.Close()
}

// Append writes p at the end of capture file idx. Storing nothing is an error.
func (l *Logs) Append(idx int, p []byte) (int, error) {
	h, err := l.drv.Open(Name(idx), ModeAppend)
	if err != nil {
		return 0, fmt.Errorf("storage: open %s: %w", Name(idx), err)
	}
	n, werr := h.Write(p)
	cerr := h.Close()
	if werr != nil {
		return n, fmt.Errorf("storage: write %s: %w", Name(idx), werr)
	}
	if n < len(p) {
		return n, fmt.Errorf("%w: %d of %d bytes to %s", ErrShortWrite, n, len(p), Name(idx))
	}
	if cerr != nil {
		return n, fmt.Errorf("storage: close %s: %w", Name(idx), cerr)
	}
	return n, nil
}

// Size reports the size of capture file idx.
func (l *Logs) Size(idx int) (int64, error) { return l.drv.Size(Name(idx)) }

// LastIndex reads the persisted index; a missing state file yields 0.
func (l *Logs) LastIndex() (int, error) {
	if !l.drv.Exists(StateFile) {
		return 0, nil
	}
	h, err := l.drv.Open(StateFile, ModeRead)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage: open state: %w", err)
	}
	defer h.Close()
	sc := bufio.NewScanner(h)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok || strings.TrimSpace(k) != stateKey {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("storage: bad %s value %q", stateKey, v)
		}
		return n, nil
	}
	return 0, sc.Err()
}

// SaveIndex persists idx as the last written file.
func (l *Logs) SaveIndex(idx int) error {
	h, err := l.drv.Open(StateFile, ModeWrite)
	if err != nil {
		return fmt.Errorf("storage: open state: %w", err)
	}
	if _, err := fmt.Fprintf(h, "%s=%d\n", stateKey, idx); err != nil {
		_ = h.Close()
		return fmt.Errorf("storage: write state: %w", err)
	}
	return h.Close()
}

// Close releases the medium. Files are opened per write, so there is nothing
// held between calls.
func (l *Logs) Close() error { return nil }
