package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/copeer/internal/progress"
	"github.com/ivoronin/copeer/internal/types"
)

// walker discovers files by concurrently fanning out over a directory tree:
// one goroutine per directory, bounded by a semaphore, feeding a single
// collector over a buffered channel. This is the fallback input mode used
// when no manifest file is given — the manifest reader's equivalent of a
// live filesystem scan.
type walker struct {
	root    string
	workers int
	bar     *progress.Bar

	wg       sync.WaitGroup
	sem      types.Semaphore
	resultCh chan Record
	stats    *walkStats
}

// walkStats tracks walk progress using atomic counters so any walker
// goroutine can update them without lock contention.
type walkStats struct {
	scanned   atomic.Int64
	bytes     atomic.Int64
	startTime time.Time
}

func (s *walkStats) String() string {
	return fmt.Sprintf("Scanned %d files (%s) in %.1fs",
		s.scanned.Load(), humanize.IBytes(uint64(s.bytes.Load())), time.Since(s.startTime).Seconds())
}

// defaultWalkWorkers bounds concurrent directory reads when the caller
// doesn't need a specific figure; WalkDirectory always runs with this many
// concurrent directory listers.
const defaultWalkWorkers = 32

// WalkDirectory emits the same Record shape as ReadManifest by walking a
// filesystem tree concurrently: one goroutine per directory, bounded by a
// semaphore, fanning in to a single collector. Permission errors and
// unreadable entries are skipped rather than aborting the walk.
func WalkDirectory(root string, bar *progress.Bar) ([]Record, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve %s: %w", root, err)
	}

	w := &walker{
		root:     absRoot,
		workers:  defaultWalkWorkers,
		bar:      bar,
		sem:      types.NewSemaphore(defaultWalkWorkers),
		resultCh: make(chan Record, 1000),
		stats:    &walkStats{startTime: time.Now()},
	}
	if w.bar != nil {
		w.bar.Describe(w.stats)
	}

	var results []Record
	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		for r := range w.resultCh {
			results = append(results, r)
		}
		collectorWg.Done()
	}()

	w.walkDirectory(absRoot)
	w.wg.Wait()
	close(w.resultCh)
	collectorWg.Wait()

	if w.bar != nil {
		w.bar.Finish(w.stats)
	}
	return results, nil
}

// walkDirectory spawns a goroutine to list one directory and recursively
// fan out to its subdirectories. The semaphore is released after listing,
// before recursing, so children can start while the parent moves on.
func (w *walker) walkDirectory(dir string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.sem.Acquire()
		files, subdirs, err := w.listDirectory(dir)
		w.sem.Release()
		if err != nil {
			return // permission errors etc. are skipped, not fatal
		}

		for _, f := range files {
			w.stats.scanned.Add(1)
			w.stats.bytes.Add(f.Size)
			w.resultCh <- f
		}
		if w.bar != nil {
			w.bar.Describe(w.stats)
		}

		for _, sub := range subdirs {
			w.walkDirectory(sub)
		}
	}()
}

// listDirectory reads one directory in batches, returning regular files as
// Records and subdirectories for recursive walking.
func (w *walker) listDirectory(dirPath string) (files []Record, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, readErr := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if readErr != nil && readErr != io.EOF {
				return files, subdirs, readErr
			}
			break
		}
		for _, entry := range entries {
			full := filepath.Join(dirPath, entry.Name())
			if entry.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			files = append(files, Record{AbsPath: full, Size: info.Size()})
		}
	}
	return files, subdirs, nil
}
