// Package store coordinates the ordered map with the single-writer
// discipline the service requires: any goroutine may call Get directly,
// but Put and Remove are serialized through a bounded queue drained by
// one dedicated writer goroutine, guaranteeing a unique mutating thread
// at any time.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mattkeenan/kvservice/internal/skiplist"
	"github.com/mattkeenan/kvservice/internal/snapshot"
)

// queueCapacity bounds the write queue, mirroring the reference
// implementation's boost::lockfree::queue(512).
const queueCapacity = 512

// footerKey is the reserved sentinel that terminates every skip-list
// level; it is unreachable as a legal key since int32 keys sent over the
// service's wire contract never reach it in practice but are rejected
// outright if they try.
const footerKey int32 = math.MaxInt32

// ErrQueueFull is returned by Put/Remove when the write queue is at
// capacity. The caller enqueues with a non-blocking send and fails fast
// rather than blocking the RPC thread, per the documented QueueFull
// policy.
var ErrQueueFull = errors.New("store: write queue is full")

type opKind int

const (
	opPut opKind = iota
	opRemove
)

type writeRequest struct {
	op    opKind
	key   int32
	value string
	reply chan writeResult
}

type writeResult struct {
	ok    bool
	value string
}

// Store is the service's in-memory key-value store: an ordered map plus
// the writer goroutine that owns all structural mutation.
type Store struct {
	sl       *skiplist.Map[int32]
	dumpPath string

	queue  chan writeRequest
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Store. Call Start before issuing any Get/Put/Remove.
func New() *Store {
	return &Store{
		sl:    skiplist.New[int32](footerKey, cmp.Compare[int32]),
		queue: make(chan writeRequest, queueCapacity),
	}
}

func formatKey(k int32) string { return strconv.FormatInt(int64(k), 10) }

func parseKey(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// Start loads dumpPath (if present) and launches the writer goroutine.
// A parse or insert failure while loading is fatal, matching
// SnapshotParseError's policy; an absent file is treated as empty.
func (s *Store) Start(dumpPath string) error {
	s.dumpPath = dumpPath
	if err := snapshot.Load[int32](dumpPath, s.sl, parseKey); err != nil {
		return fmt.Errorf("store: start: %w", err)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.writeLoop()
	return nil
}

// Stop signals the writer to finish draining its queue, waits for it to
// exit, forces a final GC sweep (no reader can be racing the map once
// Stop is called from the orderly-shutdown path), and dumps the
// snapshot. A dump failure is returned for the caller to log and ignore,
// per the service's SnapshotIOError policy (the process is already
// stopping).
func (s *Store) Stop() error {
	close(s.stopCh)
	<-s.doneCh

	s.sl.GC()
	if err := snapshot.Dump[int32](s.dumpPath, s.sl, formatKey); err != nil {
		return fmt.Errorf("store: stop: %w", err)
	}
	return nil
}

// writeLoop is the service's single mutating goroutine. It blocks when
// the queue is empty and wakes on enqueue or on Stop, draining any
// remaining requests before exiting.
func (s *Store) writeLoop() {
	for {
		select {
		case req := <-s.queue:
			s.apply(req)
		case <-s.stopCh:
			s.drainAndExit()
			return
		}
	}
}

func (s *Store) drainAndExit() {
	for {
		select {
		case req := <-s.queue:
			s.apply(req)
		default:
			close(s.doneCh)
			return
		}
	}
}

func (s *Store) apply(req writeRequest) {
	var res writeResult
	switch req.op {
	case opPut:
		// The only possible error is ErrSentinelKey, already rejected in
		// Put before the request was ever enqueued.
		_ = s.sl.Insert(req.key, req.value)
		res.ok = true
	case opRemove:
		res.value, res.ok = s.sl.Remove(req.key)
	}
	req.reply <- res
}

// Get looks up key. It runs entirely on the caller's goroutine and never
// blocks on the writer.
func (s *Store) Get(key int32) (value string, found bool) {
	return s.sl.Search(key)
}

// Put enqueues an insert/update of key and blocks until the writer has
// applied it, so the caller's RPC reply is only sent after the mutation
// is visible to subsequent Get calls.
func (s *Store) Put(key int32, value string) error {
	if key == footerKey {
		return skiplist.ErrSentinelKey
	}

	reply := make(chan writeResult, 1)
	select {
	case s.queue <- writeRequest{op: opPut, key: key, value: value, reply: reply}:
	default:
		return ErrQueueFull
	}
	<-reply
	return nil
}

// Remove enqueues a delete of key and blocks until the writer has applied
// it, reporting whether the key was present.
func (s *Store) Remove(key int32) (found bool, err error) {
	reply := make(chan writeResult, 1)
	select {
	case s.queue <- writeRequest{op: opRemove, key: key, reply: reply}:
	default:
		return false, ErrQueueFull
	}
	res := <-reply
	return res.ok, nil
}
