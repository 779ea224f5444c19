// Package snapshot persists an ordered map to and restores it from the
// on-disk text format described by the service's snapshot contract: one
// "key value" line per entry, in ascending key order.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	natomic "github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// Map is the subset of skiplist.Map's surface snapshot needs, kept as an
// interface so this package doesn't depend on the skiplist package's
// internals — only its dump/load contract.
type Map[K any] interface {
	Dump(w io.Writer, formatKey func(K) string) error
	Load(r io.Reader, parseKey func(string) (K, error)) error
}

// Load restores m from path. A missing file is treated as an empty map,
// not an error, matching the service's startup contract; any other read
// failure or parse failure is returned for the caller to treat as fatal.
func Load[K any](path string, m Map[K], parseKey func(string) (K, error)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	if err := m.Load(f, parseKey); err != nil {
		return fmt.Errorf("snapshot: %s: %w", path, err)
	}
	return nil
}

// Dump writes m to path. The write is atomic (via a temp-file-then-rename,
// github.com/natefinch/atomic) so a crash mid-write can never corrupt the
// previously dumped snapshot, and the new file is fsynced before Dump
// returns so the dump survives a crash immediately after an orderly
// shutdown.
func Dump[K any](path string, m Map[K], formatKey func(K) string) error {
	var buf bytes.Buffer
	if err := m.Dump(&buf, formatKey); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	if err := natomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot: reopen %s for fsync: %w", path, err)
	}
	defer f.Close()
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("snapshot: fsync %s: %w", path, err)
	}
	return nil
}
