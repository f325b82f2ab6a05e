// Package queue holds pending embedding jobs.
//
// The queue is an ordered set keyed by entity key. Enqueueing a key that is
// already present replaces the job data but keeps its original position.
// Transitions between empty and non-empty are reported through callbacks,
// exactly once per transition.
package queue

import (
	"sync"
	"time"
)

// Job is a request to (re)embed one entity.
type Job struct {
	EntityKey   string
	ContentHash string
	SourcePath  string
	EnqueuedAt  time.Time
}

// slot is an ordering reference. It is stale when the key was removed or
// re-added after this slot was written.
type slot struct {
	key string
	seq uint64
}

type entry struct {
	job Job
	seq uint64
}

// compactThreshold is the number of dead order slots tolerated before compaction.
const compactThreshold = 256

// Queue is a deduplicating FIFO of embed jobs. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]entry
	order   []slot
	head    int
	nextSeq uint64

	// notifyMu serializes callback delivery so transitions are observed in order.
	notifyMu   sync.Mutex
	onNonEmpty []func()
	onEmpty    []func()

	now func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		jobs: make(map[string]entry),
		now:  time.Now,
	}
}

// OnNonEmpty registers fn to run when the queue goes from empty to non-empty.
func (q *Queue) OnNonEmpty(fn func()) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.onNonEmpty = append(q.onNonEmpty, fn)
}

// OnEmpty registers fn to run when the queue goes from non-empty to empty.
func (q *Queue) OnEmpty(fn func()) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.onEmpty = append(q.onEmpty, fn)
}

type transition int

const (
	noTransition transition = iota
	becameNonEmpty
	becameEmpty
)

// mutate runs fn under the data lock and delivers the resulting transition.
// Callbacks run after the data lock is released. They may read the queue but
// must not mutate it synchronously.
func (q *Queue) mutate(fn func()) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	before := len(q.jobs)
	fn()
	after := len(q.jobs)
	q.mu.Unlock()

	var tr transition
	switch {
	case before == 0 && after > 0:
		tr = becameNonEmpty
	case before > 0 && after == 0:
		tr = becameEmpty
	}
	q.fire(tr)
}

func (q *Queue) fire(tr transition) {
	var fns []func()
	switch tr {
	case becameNonEmpty:
		fns = q.onNonEmpty
	case becameEmpty:
		fns = q.onEmpty
	default:
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// Enqueue adds job, or replaces the pending job for the same entity key.
// A replaced job keeps its original position.
func (q *Queue) Enqueue(job Job) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	q.mutate(func() {
		if e, ok := q.jobs[job.EntityKey]; ok {
			e.job = job
			q.jobs[job.EntityKey] = e
			return
		}
		q.nextSeq++
		q.jobs[job.EntityKey] = entry{job: job, seq: q.nextSeq}
		q.order = append(q.order, slot{key: job.EntityKey, seq: q.nextSeq})
	})
}

// live reports whether s still refers to the current entry for its key.
func (q *Queue) live(s slot) bool {
	e, ok := q.jobs[s.key]
	return ok && e.seq == s.seq
}

// advance skips stale slots at the head. Caller holds mu.
func (q *Queue) advance() {
	for q.head < len(q.order) && !q.live(q.order[q.head]) {
		q.head++
	}
	q.compact()
}

// compact drops consumed and stale slots once enough have piled up. Caller holds mu.
func (q *Queue) compact() {
	if len(q.jobs) == 0 {
		q.order = q.order[:0]
		q.head = 0
		return
	}
	dead := len(q.order) - len(q.jobs)
	if dead < compactThreshold || dead < len(q.jobs) {
		return
	}
	kept := make([]slot, 0, len(q.jobs))
	for _, s := range q.order[q.head:] {
		if q.live(s) {
			kept = append(kept, s)
		}
	}
	q.order = kept
	q.head = 0
}

// Dequeue removes and returns the oldest job.
func (q *Queue) Dequeue() (Job, bool) {
	var (
		job Job
		ok  bool
	)
	q.mutate(func() {
		q.advance()
		if q.head >= len(q.order) {
			return
		}
		s := q.order[q.head]
		q.head++
		job, ok = q.jobs[s.key].job, true
		delete(q.jobs, s.key)
	})
	return job, ok
}

// Peek returns the oldest job without removing it.
func (q *Queue) Peek() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advance()
	if q.head >= len(q.order) {
		return Job{}, false
	}
	return q.jobs[q.order[q.head].key].job, true
}

// Has reports whether a job for key is pending.
func (q *Queue) Has(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[key]
	return ok
}

// Get returns the pending job for key.
func (q *Queue) Get(key string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[key]
	return e.job, ok
}

// Remove drops the job for key. Its order slot is left behind and skipped later.
func (q *Queue) Remove(key string) bool {
	var removed bool
	q.mutate(func() {
		if _, ok := q.jobs[key]; ok {
			delete(q.jobs, key)
			removed = true
		}
	})
	return removed
}

// RemoveIfHash drops the job for key only if it still carries hash.
// A job re-enqueued with newer content survives.
func (q *Queue) RemoveIfHash(key, hash string) bool {
	var removed bool
	q.mutate(func() {
		if e, ok := q.jobs[key]; ok && e.job.ContentHash == hash {
			delete(q.jobs, key)
			removed = true
		}
	})
	return removed
}

// RemoveBySourcePath drops every job for the given source path and returns the count.
func (q *Queue) RemoveBySourcePath(path string) int {
	var n int
	q.mutate(func() {
		for key, e := range q.jobs {
			if e.job.SourcePath == path {
				delete(q.jobs, key)
				n++
			}
		}
	})
	return n
}

// Clear drops all jobs.
func (q *Queue) Clear() {
	q.mutate(func() {
		clear(q.jobs)
	})
}

// Size returns the number of pending jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// ToArray returns pending jobs in queue order.
func (q *Queue) ToArray() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, s := range q.order[q.head:] {
		if q.live(s) {
			out = append(out, q.jobs[s.key].job)
		}
	}
	return out
}
