// Package skiplist implements a probabilistic ordered map backed by a skip
// list, built for lock-free reads against a single writer.
//
// Search runs entirely on the calling goroutine and never blocks: it
// protects its traversal with a hazard pointer (package
// github.com/mattkeenan/kvservice/internal/hazard) and revalidates before
// trusting what it found. Insert, Remove, Dump, and Load mutate the list's
// structure and must only ever be called from a single goroutine at a
// time — the map does not serialize them itself. See package
// github.com/mattkeenan/kvservice/internal/store for the goroutine that
// owns that writer role in this service.
package skiplist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/mattkeenan/kvservice/internal/hazard"
)

const (
	// MaxLevel bounds how many forward pointers a single node can carry.
	MaxLevel = 16

	// probLevel is the Bernoulli trial denominator used by randomLevel:
	// each additional level has probability 1/probLevel.
	probLevel = 4

	// gcThreshold is the lazy-trash size at which a GC sweep is triggered
	// after a write.
	gcThreshold = 50
)

// node is an immutable (key, value) pair plus its per-level forward
// pointers. level is fixed at creation; forward participates in exactly
// levels [0, level).
type node[K any] struct {
	key     K
	value   string
	level   int
	forward []atomic.Pointer[node[K]]
}

// Map is an ordered, concurrent key-value map. The zero value is not
// usable; construct one with New.
type Map[K any] struct {
	header    *node[K]
	footer    *node[K]
	footerKey K
	cmp       func(a, b K) int

	level atomic.Int32 // highest populated level; mutated only by the writer
	size  atomic.Int64 // visible entry count; mutated only by the writer

	rnd   *levelRand  // writer-only
	trash []*node[K]  // unlinked, not-yet-freed nodes; writer-only

	hazards *hazard.Registry[node[K]]
}

// New constructs an empty map. footerKey must compare greater than every
// key the caller will ever insert; cmp must return a negative, zero, or
// positive value when a is less than, equal to, or greater than b.
func New[K any](footerKey K, cmp func(a, b K) int) *Map[K] {
	footer := &node[K]{
		key:     footerKey,
		level:   1,
		forward: make([]atomic.Pointer[node[K]], 1),
	}

	header := &node[K]{
		level:   MaxLevel,
		forward: make([]atomic.Pointer[node[K]], MaxLevel),
	}
	for i := 0; i < MaxLevel; i++ {
		header.forward[i].Store(footer)
	}

	m := &Map[K]{
		header:    header,
		footer:    footer,
		footerKey: footerKey,
		cmp:       cmp,
		rnd:       newLevelRand(0x12345678),
		hazards:   hazard.NewRegistry[node[K]](),
	}
	m.level.Store(1)
	return m
}

// Level reports the highest currently populated level.
func (m *Map[K]) Level() int {
	return int(m.level.Load())
}

// Size reports the number of user-visible entries.
func (m *Map[K]) Size() int {
	return int(m.size.Load())
}

// findPrev traverses from the header down to level 0, filling prev[i]
// with the last node at level i whose own key is strictly less than key
// (so its forward pointer at level i leads to a key >= key). It returns the node immediately at or after key at level
// 0 (possibly the footer, possibly nil past the footer).
func (m *Map[K]) findPrev(key K) (prev [MaxLevel]*node[K], candidate *node[K]) {
	x := m.header
	for i := int(m.level.Load()) - 1; i >= 0; i-- {
		next := x.forward[i].Load()
		for next != nil && m.cmp(next.key, key) < 0 {
			x = next
			next = x.forward[i].Load()
		}
		prev[i] = x
	}
	candidate = x.forward[0].Load()
	return prev, candidate
}

// Search looks up key. It is safe to call concurrently with any number of
// other Search calls and with the single writer's Insert/Remove.
func (m *Map[K]) Search(key K) (value string, found bool) {
	h := m.hazards.Acquire()
	defer h.Release()

	var prev [MaxLevel]*node[K]
	var candidate *node[K]
	for {
		prev, candidate = m.findPrev(key)
		h.Remember(candidate)
		// Revalidate: if level 0's successor of prev[0] is still
		// candidate, the hazard was published before any writer could
		// have freed it. Otherwise the writer unlinked candidate
		// between our traversal and the publish; retry.
		if prev[0].forward[0].Load() == candidate {
			break
		}
	}

	if candidate == nil || candidate == m.footer || m.cmp(candidate.key, key) != 0 {
		return "", false
	}
	return candidate.value, true
}

// Insert adds or updates key. Writer-only: must not be called
// concurrently with Insert, Remove, Dump, or Load.
//
// Inserting the reserved footer key is rejected with ErrSentinelKey.
func (m *Map[K]) Insert(key K, value string) error {
	if m.cmp(key, m.footerKey) == 0 {
		return ErrSentinelKey
	}

	prev, candidate := m.findPrev(key)
	update := candidate != nil && candidate != m.footer && m.cmp(candidate.key, key) == 0

	var chosenLevel int
	if update {
		// Preserve the old node's fanout: this keeps traversal cost
		// characteristics stable across repeated updates of the same key.
		chosenLevel = candidate.level
	} else {
		chosenLevel = m.rnd.randomLevel(MaxLevel, probLevel)
	}

	curLevel := int(m.level.Load())
	if chosenLevel > curLevel {
		for i := curLevel; i < chosenLevel; i++ {
			prev[i] = m.header
		}
		m.level.Store(int32(chosenLevel))
	}

	newNode := &node[K]{
		key:     key,
		value:   value,
		level:   chosenLevel,
		forward: make([]atomic.Pointer[node[K]], chosenLevel),
	}
	for i := 0; i < chosenLevel; i++ {
		if update {
			newNode.forward[i].Store(candidate.forward[i].Load())
		} else {
			newNode.forward[i].Store(prev[i].forward[i].Load())
		}
		// Publish last: the new node's own pointers must already be
		// initialized before any reader can reach it through prev[i].
		prev[i].forward[i].Store(newNode)
	}

	if update {
		m.deferFree(candidate)
	} else {
		m.size.Add(1)
	}
	return nil
}

// Remove deletes key, returning its value if present. Writer-only: must
// not be called concurrently with Insert, Remove, Dump, or Load.
func (m *Map[K]) Remove(key K) (value string, found bool) {
	prev, candidate := m.findPrev(key)
	if candidate == nil || candidate == m.footer || m.cmp(candidate.key, key) != 0 {
		return "", false
	}

	curLevel := int(m.level.Load())
	for i := 0; i < curLevel; i++ {
		if prev[i].forward[i].Load() == candidate {
			prev[i].forward[i].Store(candidate.forward[i].Load())
		}
	}

	value = candidate.value
	m.deferFree(candidate)

	for curLevel > 1 && m.header.forward[curLevel-1].Load() == m.footer {
		curLevel--
	}
	m.level.Store(int32(curLevel))
	m.size.Add(-1)
	return value, true
}

// deferFree pushes an unlinked node onto the lazy-trash queue and runs a
// GC sweep if the queue has reached gcThreshold. It must run after the
// unlink's Store calls above are visible, which holds trivially here
// since the writer is single-threaded and Go's memory model orders a
// goroutine's own operations.
func (m *Map[K]) deferFree(n *node[K]) {
	m.trash = append(m.trash, n)
	m.gcSweep()
}

// gcSweep runs GC once the lazy-trash queue holds at least gcThreshold
// nodes.
func (m *Map[K]) gcSweep() {
	if len(m.trash) < gcThreshold {
		return
	}
	m.GC()
}

// GC frees every trashed node no hazard slot currently advertises,
// compacting the trash slice with a clean swap-remove (no transient nil
// aliasing), regardless of the gcThreshold. deferFree calls this
// automatically once the trash grows large enough; callers that know no
// more writes are coming (e.g. at orderly shutdown) can call it directly
// to reclaim whatever remains.
func (m *Map[K]) GC() {
	i := 0
	for i < len(m.trash) {
		n := m.trash[i]
		if m.hazards.Contains(n) {
			i++
			continue
		}
		last := len(m.trash) - 1
		m.trash[i] = m.trash[last]
		m.trash[last] = nil
		m.trash = m.trash[:last]
		// Don't advance i: the element swapped into position i still
		// needs to be checked.
	}
}

// TrashLen reports the number of unlinked nodes awaiting reclamation.
// Exposed for tests asserting the GC sweep eventually drains to zero.
func (m *Map[K]) TrashLen() int {
	return len(m.trash)
}

// Dump writes one "key value" line per entry, in ascending key order, to
// w. formatKey renders a key as whitespace-free text. Writer-only.
func (m *Map[K]) Dump(w io.Writer, formatKey func(K) string) error {
	bw := bufio.NewWriter(w)
	for n := m.header.forward[0].Load(); n != nil && n != m.footer; n = n.forward[0].Load() {
		if _, err := fmt.Fprintf(bw, "%s %s\n", formatKey(n.key), n.value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads "key value" lines written by Dump and inserts each pair.
// parseKey must invert formatKey. Load must run before the map is
// exposed to any reader or writer; it is not safe to call concurrently
// with Search. A malformed line or a rejected insert wraps
// ErrSnapshotParse.
func (m *Map[K]) Load(r io.Reader, parseKey func(string) (K, error)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("%w: %q", ErrSnapshotParse, line)
		}
		key, err := parseKey(fields[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotParse, err)
		}
		if err := m.Insert(key, fields[1]); err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotParse, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotParse, err)
	}
	return nil
}
