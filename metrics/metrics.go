// Package metrics reports collector statistics, merging the shape of the
// teacher's runtime/debug.GCStats (pause history) and runtime/metrics.Sample
// (named value readings) into one concrete struct, since this module's
// metrics are GC-internal rather than a generic pluggable sampling registry.
package metrics

import "time"

// Stats is a point-in-time snapshot of collector activity.
type Stats struct {
	// NumGC is the total number of completed collection cycles.
	NumGC int64
	// LastGC is when the most recent collection finished.
	LastGC time.Time
	// PauseTotal is the cumulative stop-the-world duration across every
	// collection.
	PauseTotal time.Duration
	// LastPause is the duration of the most recent collection's STW window.
	LastPause time.Duration

	// HeapCapacityBytes is the total size of the backing region.
	HeapCapacityBytes uintptr
	// HeapInUseBytes is the portion of the backing region currently
	// allocated (the bump pointer's offset from the region base).
	HeapInUseBytes uintptr

	// ObjectsMarked is the number of objects the most recent mark phase
	// reached.
	ObjectsMarked uint64
	// ObjectsSwept is the number of garbage objects the most recent sweep
	// reclaimed.
	ObjectsSwept uint64
	// LargeObjectsLive is the number of entries remaining in the
	// large-object list after the most recent sweep.
	LargeObjectsLive int

	// SafepointsOpened counts RecordSafepointOpened calls. gc.Heap.Collect
	// makes one for every safepoint scope it opens; BeginCollection calls
	// made outside that heap are not counted.
	SafepointsOpened uint64

	// LinesOccupied and LinesTotal describe line-granularity occupancy as of
	// the most recent collection: how many of the heap's lines held at
	// least one live byte after the last mark phase, out of how many lines
	// the heap spans in total.
	LinesOccupied int
	LinesTotal    int
	// ChunksOccupied and ChunksTotal are the same accounting at chunk
	// granularity.
	ChunksOccupied int
	ChunksTotal    int
}

// Recorder accumulates Stats across collection cycles. The zero value is
// ready to use.
type Recorder struct {
	stats Stats
}

// RecordCollection folds one completed collection's results into the
// running totals.
func (r *Recorder) RecordCollection(pause time.Duration, marked, swept uint64, largeLive int, finishedAt time.Time) {
	r.stats.NumGC++
	r.stats.LastGC = finishedAt
	r.stats.PauseTotal += pause
	r.stats.LastPause = pause
	r.stats.ObjectsMarked = marked
	r.stats.ObjectsSwept = swept
	r.stats.LargeObjectsLive = largeLive
}

// RecordSafepointOpened increments SafepointsOpened.
func (r *Recorder) RecordSafepointOpened() {
	r.stats.SafepointsOpened++
}

// RecordOccupancy folds one completed collection's region-level occupancy
// counts into the running stats, replacing the previous cycle's counts —
// like ObjectsMarked and ObjectsSwept, these describe the most recent cycle
// rather than accumulating across cycles.
func (r *Recorder) RecordOccupancy(linesOccupied, linesTotal, chunksOccupied, chunksTotal int) {
	r.stats.LinesOccupied = linesOccupied
	r.stats.LinesTotal = linesTotal
	r.stats.ChunksOccupied = chunksOccupied
	r.stats.ChunksTotal = chunksTotal
}

// Snapshot returns the current accumulated Stats, with heap occupancy
// fields filled in from the caller's live measurements.
func (r *Recorder) Snapshot(heapCapacityBytes, heapInUseBytes uintptr) Stats {
	s := r.stats
	s.HeapCapacityBytes = heapCapacityBytes
	s.HeapInUseBytes = heapInUseBytes
	return s
}
