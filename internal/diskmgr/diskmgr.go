// Package diskmgr selects a destination volume for each job, enforcing a
// per-volume usage threshold under two placement strategies.
//
// # Strategies
//
//   - fill: stick to one mount point until it crosses the threshold, then
//     move to the next configured mount point. Once a volume is skipped it
//     is never revisited in the same run.
//   - round_robin: two-phase. A preferred pool of maxConcurrentDisks mount
//     points (the configured prefix) is tried first, cycling from the
//     index the previous call left off; a suitable hit advances that index
//     modulo the pool size. If no preferred volume is suitable, the
//     remaining mount points are scanned linearly as a fallback, and that
//     scan never advances the preferred-pool index.
//
// All state is guarded by a single mutex, mirroring the single-lock
// discipline the rest of this codebase uses for shared mutable state.
package diskmgr

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ivoronin/copeer/internal/config"
)

// Usage reports one mount point's occupancy, as sampled by statfs.
type Usage struct {
	MountPoint string
	UsedPct    float64
	FreeBytes  int64
	TotalBytes int64
}

// Manager picks a destination mount point for each job under a configured
// strategy and usage threshold.
//
// Safe for concurrent use: Pick locks internally.
type Manager struct {
	mountPoints        []string
	threshold          float64
	strategy           config.DiskStrategy
	maxConcurrentDisks int // round_robin: size of the preferred pool prefix

	mu      sync.Mutex
	fillIdx int // fill: index of current volume
	rrIdx   int // round_robin: index of next preferred-pool volume to try first
}

// New creates a Manager over mountPoints using strategy and threshold
// (a used-percent ceiling; volumes at or above it are excluded).
// maxConcurrentDisks sets the round_robin preferred-pool size; it is
// ignored by the fill strategy. A value that is <= 0 or >= len(mountPoints)
// makes the entire list the preferred pool, leaving no fallback.
func New(mountPoints []string, strategy config.DiskStrategy, threshold float64, maxConcurrentDisks int) *Manager {
	if maxConcurrentDisks <= 0 || maxConcurrentDisks > len(mountPoints) {
		maxConcurrentDisks = len(mountPoints)
	}
	return &Manager{
		mountPoints:        mountPoints,
		threshold:          threshold,
		strategy:           strategy,
		maxConcurrentDisks: maxConcurrentDisks,
	}
}

// Pick selects a destination mount point for a job of the given size,
// sampling live disk usage via statfs. Returns an error if no configured
// mount point is suitable.
func (m *Manager) Pick(size int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.strategy {
	case config.StrategyRoundRobin:
		return m.pickRoundRobinLocked(size)
	default:
		return m.pickFillLocked(size)
	}
}

// pickFillLocked walks forward from the current volume index, advancing
// past any volume that is over threshold or too small, and never revisits
// a volume once skipped.
func (m *Manager) pickFillLocked(size int64) (string, error) {
	for m.fillIdx < len(m.mountPoints) {
		mp := m.mountPoints[m.fillIdx]
		suitable, err := m.suitable(mp, size)
		if err != nil {
			return "", err
		}
		if suitable {
			return mp, nil
		}
		m.fillIdx++
	}
	return "", fmt.Errorf("diskmgr: no mount point has room for %d bytes", size)
}

// pickRoundRobinLocked tries the preferred pool (mountPoints[:maxConcurrentDisks])
// first, cycling from rrIdx and advancing it modulo the pool size on a hit.
// If nothing in the preferred pool is suitable, it falls back to a linear
// scan of the remaining mount points without touching rrIdx.
func (m *Manager) pickRoundRobinLocked(size int64) (string, error) {
	preferred := m.mountPoints[:m.maxConcurrentDisks]
	n := len(preferred)
	for i := 0; i < n; i++ {
		idx := (m.rrIdx + i) % n
		mp := preferred[idx]
		suitable, err := m.suitable(mp, size)
		if err != nil {
			return "", err
		}
		if suitable {
			m.rrIdx = (idx + 1) % n
			return mp, nil
		}
	}

	for _, mp := range m.mountPoints[m.maxConcurrentDisks:] {
		suitable, err := m.suitable(mp, size)
		if err != nil {
			return "", err
		}
		if suitable {
			return mp, nil
		}
	}
	return "", fmt.Errorf("diskmgr: no mount point has room for %d bytes", size)
}

// suitable reports whether mp has used_pct below threshold and enough free
// space for size, per spec rule used_pct<threshold ∧ free_bytes>size.
func (m *Manager) suitable(mp string, size int64) (bool, error) {
	usage, err := statMountPoint(mp)
	if err != nil {
		return false, fmt.Errorf("diskmgr: stat %s: %w", mp, err)
	}
	return usage.UsedPct < m.threshold && usage.FreeBytes > size, nil
}

// Usage reports live occupancy for every configured mount point.
func (m *Manager) Usage() ([]Usage, error) {
	out := make([]Usage, 0, len(m.mountPoints))
	for _, mp := range m.mountPoints {
		u, err := statMountPoint(mp)
		if err != nil {
			return nil, fmt.Errorf("diskmgr: stat %s: %w", mp, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// statMountPoint samples live usage via statfs(2). It is a variable so
// tests can substitute fixed readings.
var statMountPoint = func(mp string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mp, &st); err != nil {
		return Usage{}, err
	}

	blockSize := uint64(st.Bsize)
	total := st.Blocks * blockSize
	free := st.Bavail * blockSize
	used := total - free

	var usedPct float64
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100
	}

	return Usage{
		MountPoint: mp,
		UsedPct:    usedPct,
		FreeBytes:  int64(free),
		TotalBytes: int64(total),
	}, nil
}
