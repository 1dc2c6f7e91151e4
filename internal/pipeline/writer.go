package pipeline

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/sqlitedb"
)

// reorderCapacity bounds the reorder buffer's occupancy of completed-but-
// unwritten results, per spec.md §4.6.3/§5.
const reorderCapacity = 20

// sinkKind distinguishes the three output streams for diagnostics and for
// indexing the fixed write order (primary, filelists, other).
type sinkKind int

const (
	sinkPrimary sinkKind = iota
	sinkFilelists
	sinkOther
)

func (k sinkKind) String() string {
	switch k {
	case sinkPrimary:
		return "primary"
	case sinkFilelists:
		return "filelists"
	default:
		return "other"
	}
}

// sinkWriter is one of the three independent output streams. Its own mutex
// and condition variable let workers block on "my id hasn't come up yet"
// without touching any other sink's state; `next` is additionally readable
// lock-free via atomic so the reorder buffer can peek whether a task is
// on-turn without acquiring this sink's lock while already holding the
// buffer's lock (spec.md §5: "they do not hold more than one lock at a time
// in the waiting state").
type sinkWriter struct {
	kind sinkKind
	mu   sync.Mutex
	cond *sync.Cond
	next atomic.Int64

	file *os.File // plain (uncompressed) staging file; compressed at Close
	db   *sqlitedb.Writer
}

func newSinkWriter(kind sinkKind, file *os.File, db *sqlitedb.Writer) *sinkWriter {
	s := &sinkWriter{kind: kind, file: file, db: db}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Peek reports the next id this sink is waiting for, without blocking.
func (s *sinkWriter) Peek() int64 { return s.next.Load() }

// writeInOrder blocks until id is this sink's turn, runs fn while holding
// the sink's lock, advances the cursor, then releases and wakes every
// waiter — mirroring spec.md §4.6.3 step 2 exactly (acquire, wait-while,
// append, increment, release-then-broadcast).
func (s *sinkWriter) writeInOrder(id int64, fn func() error) error {
	s.mu.Lock()
	for s.next.Load() != id {
		s.cond.Wait()
	}
	err := fn()
	s.next.Add(1)
	s.mu.Unlock()
	s.cond.Broadcast()
	return err
}

// appendFragment writes one package's XML fragment plus, if enabled, its
// SQLite row batch. Called only from inside writeInOrder, so no locking of
// its own is needed here.
func (s *sinkWriter) appendFragment(pkgKey int64, fragment []byte, pkg *rpmfact.Package) error {
	if fragment != nil {
		if _, err := s.file.Write(fragment); err != nil {
			return err
		}
		if _, err := s.file.Write([]byte("\n")); err != nil {
			return err
		}
	}
	if s.db == nil || pkg == nil {
		return nil
	}
	switch s.kind {
	case sinkPrimary:
		return s.db.InsertPrimary(pkgKey, pkg)
	case sinkFilelists:
		return s.db.InsertFilelists(pkgKey, pkg)
	default:
		return s.db.InsertOther(pkgKey, pkg)
	}
}

// fragments holds one task's three rendered XML fragments.
type fragments struct {
	primary, filelists, other []byte
}

// pendingResult is what a worker hands to the orderedWriter once it has
// finished processing one Task: either a fully rendered set of fragments,
// or — if the worker failed before producing any — a nil fragments value
// with werr set, which still must advance every cursor so the pipeline
// cannot deadlock (spec.md §7, §9 Open Question #2).
type pendingResult struct {
	id    int64
	frag  fragments
	pkg   *rpmfact.Package
	werr  error
	fresh bool // true if pkg was freshly parsed rather than reused from cache
}

// orderedWriter is the subsystem of spec.md §4.6.3: three independent
// sinks, each receiving fragments in strict id order, fed by a shared
// bounded reorder buffer that absorbs short-lived scheduling asymmetry
// between workers completing out of order.
type orderedWriter struct {
	sinks [3]*sinkWriter // primary, filelists, other, in this fixed write order

	bufMu sync.Mutex
	buf   []*pendingResult // kept sorted by id
	total int64

	// written counts tasks that actually reached every sink (res.werr ==
	// nil), which is the true package count for the root "packages" count
	// and PackageCount — not len(tasks), since worker-local failures are
	// dropped from every sink while still advancing all three cursors.
	written atomic.Int64
}

func newOrderedWriter(primary, filelists, other *sinkWriter, total int64) *orderedWriter {
	return &orderedWriter{sinks: [3]*sinkWriter{primary, filelists, other}, total: total}
}

// Submit runs the per-task submission protocol of spec.md §4.6.3: on-turn
// tasks are written inline; tasks that aren't on-turn go into the reorder
// buffer if there's room and this isn't the last task, otherwise they fall
// through to the ordered-write path (which also drains the buffer
// afterwards).
func (w *orderedWriter) Submit(res *pendingResult) error {
	isLast := res.id == w.total-1

	w.bufMu.Lock()
	if res.id == w.sinks[0].Peek() {
		w.bufMu.Unlock()
		return w.writeThenDrain(res)
	}
	if len(w.buf) < reorderCapacity && !isLast {
		w.insertSorted(res)
		w.bufMu.Unlock()
		return nil
	}
	w.bufMu.Unlock()
	return w.writeThenDrain(res)
}

// insertSorted inserts res into w.buf, keeping it sorted by id. Must be
// called with bufMu held.
func (w *orderedWriter) insertSorted(res *pendingResult) {
	i := 0
	for i < len(w.buf) && w.buf[i].id < res.id {
		i++
	}
	w.buf = append(w.buf, nil)
	copy(w.buf[i+1:], w.buf[i:])
	w.buf[i] = res
}

// writeThenDrain writes res across all three sinks, then repeatedly peeks
// the buffer head: as long as it's the sink-0 cursor's turn, pop and write
// it too (spec.md §4.6.3 step 3).
func (w *orderedWriter) writeThenDrain(res *pendingResult) error {
	if err := w.writeOne(res); err != nil {
		return err
	}
	for {
		w.bufMu.Lock()
		if len(w.buf) == 0 || w.buf[0].id != w.sinks[0].Peek() {
			w.bufMu.Unlock()
			return nil
		}
		next := w.buf[0]
		w.buf = w.buf[1:]
		w.bufMu.Unlock()

		if err := w.writeOne(next); err != nil {
			return err
		}
	}
}

// writeOne drives one task through all three sinks in the fixed order
// primary, filelists, other. A worker-local failure (res.werr != nil) still
// advances every cursor but writes no bytes, keeping the package omitted
// from every sink while preserving pipeline liveness.
func (w *orderedWriter) writeOne(res *pendingResult) error {
	frags := [3][]byte{res.frag.primary, res.frag.filelists, res.frag.other}
	for i, sink := range w.sinks {
		var frag []byte
		var pkg *rpmfact.Package
		if res.werr == nil {
			frag = frags[i]
			pkg = res.pkg
		}
		if err := sink.writeInOrder(res.id, func() error {
			return sink.appendFragment(res.id, frag, pkg)
		}); err != nil {
			return err
		}
	}
	if res.werr == nil {
		w.written.Add(1)
	}
	return nil
}

// WrittenCount reports how many tasks actually reached every sink — the
// true package count, as opposed to the number of tasks discovered (which
// includes any dropped due to a worker-local failure).
func (w *orderedWriter) WrittenCount() int64 { return w.written.Load() }
