// Package types provides shared types used across the copeer codebase.
package types

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
)

// Job is a unit of work produced by the planner: either a FileJob (plain
// copy) or a SequenceJob (archive a numbered frame sequence into a tar).
//
// Key is globally unique within a plan and stable across runs given the
// same input. For a SequenceJob, Key equals Dir joined with TarName.
type Job interface {
	Key() string
	SizeBytes() int64
}

// FileJob is a single standalone file to be copied to a destination volume.
type FileJob struct {
	AbsPath string
	Size    int64
}

func (j *FileJob) Key() string      { return j.AbsPath }
func (j *FileJob) SizeBytes() int64 { return j.Size }

// SequenceJob is a numbered frame sequence promoted by the detector.
// Members is the ordered list of source files that make up the sequence;
// they are removed from the standalone-file set once promoted.
type SequenceJob struct {
	Dir      string
	TarName  string
	Members  []string
	Size     int64
	FrameMin int
	FrameMax int
}

func (j *SequenceJob) Key() string      { return filepath.Join(j.Dir, j.TarName) }
func (j *SequenceJob) SizeBytes() int64 { return j.Size }

// ShortName returns the tar filename, used for progress display.
func (j *SequenceJob) ShortName() string { return j.TarName }

// ShortName returns the job's basename, used for progress display.
func ShortName(j Job) string {
	if sj, ok := j.(*SequenceJob); ok {
		return sj.ShortName()
	}
	return filepath.Base(j.Key())
}

// SortBySizeDescending returns a copy of jobs ordered largest-first, per the
// planner's rule that the largest artifacts should start first.
func SortBySizeDescending(jobs []Job) []Job {
	sorted := NewSorted(jobs, func(j Job) int64 { return -j.SizeBytes() })
	return sorted.Items()
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type. Once constructed,
// items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }

// IDPool hands out stable integer worker IDs from a free-list, so a UI layer
// can render a bounded slot table. IDs are 1..n.
type IDPool struct {
	ids chan int
}

// NewIDPool creates a pool of n free IDs, numbered 1..n.
func NewIDPool(n int) *IDPool {
	ids := make(chan int, n)
	for i := 1; i <= n; i++ {
		ids <- i
	}
	return &IDPool{ids: ids}
}

// Acquire blocks until a worker ID is available.
func (p *IDPool) Acquire() int { return <-p.ids }

// Release returns a worker ID to the pool.
func (p *IDPool) Release(id int) { p.ids <- id }

// JobKind distinguishes FileJob from SequenceJob without a type switch at
// every call site.
type JobKind int

const (
	KindFile JobKind = iota
	KindSequence
)

// Kind reports which concrete type a Job is.
func Kind(j Job) JobKind {
	if _, ok := j.(*SequenceJob); ok {
		return KindSequence
	}
	return KindFile
}

// Describe returns a short human-readable label for a job, used in progress
// events and error log messages.
func Describe(j Job) string {
	switch v := j.(type) {
	case *SequenceJob:
		return fmt.Sprintf("sequence %s (%d members)", v.TarName, len(v.Members))
	case *FileJob:
		return v.AbsPath
	default:
		return j.Key()
	}
}
