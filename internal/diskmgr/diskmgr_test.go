package diskmgr

import (
	"testing"

	"github.com/ivoronin/copeer/internal/config"
	"github.com/ivoronin/copeer/internal/testutil"
)

func TestPickFillSucceedsUnderThreshold(t *testing.T) {
	dir := t.TempDir()
	m := New([]string{dir}, config.StrategyFill, 100, 0)

	mp, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if mp != dir {
		t.Errorf("Pick() = %q, want %q", mp, dir)
	}
}

func TestPickFailsWhenThresholdUnreachable(t *testing.T) {
	dir := t.TempDir()
	// Threshold 0 means used_pct<0 is never true, so no volume ever qualifies.
	m := New([]string{dir}, config.StrategyFill, 0, 0)

	if _, err := m.Pick(1); err == nil {
		t.Fatal("expected error when threshold is unreachable")
	}
}

func TestPickFailsWhenJobTooLarge(t *testing.T) {
	dir := t.TempDir()
	m := New([]string{dir}, config.StrategyFill, 100, 0)

	if _, err := m.Pick(1 << 62); err == nil {
		t.Fatal("expected error when job exceeds free space")
	}
}

func TestPickRoundRobinCycles(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	m := New([]string{dirA, dirB}, config.StrategyRoundRobin, 100, 0)

	first, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick 1: %v", err)
	}
	second, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick 2: %v", err)
	}
	if first == second {
		t.Fatalf("expected round_robin to alternate, got %q twice", first)
	}
	third, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick 3: %v", err)
	}
	if third != first {
		t.Errorf("expected round_robin to cycle back to %q, got %q", first, third)
	}
}

// TestPickFillUsesFirstVolumeEvenWhenItHoldsFiles builds two pre-seeded
// volumes via testutil and confirms fill strategy picks the first one with
// room for a job, independent of what it already holds.
func TestPickFillUsesFirstVolumeEvenWhenItHoldsFiles(t *testing.T) {
	h := testutil.New(t, testutil.Tree{
		Volumes: []testutil.Volume{
			{MountPoint: "vol1", Files: []testutil.File{{Path: "existing.bin", Size: 1024}}},
			{MountPoint: "vol2"},
		},
	})

	m := New([]string{h.VolumePath("vol1"), h.VolumePath("vol2")}, config.StrategyFill, 100, 0)

	mp, err := m.Pick(10)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if mp != h.VolumePath("vol1") {
		t.Errorf("Pick() = %q, want first suitable volume %q", mp, h.VolumePath("vol1"))
	}
}

// TestPickRoundRobinFallsBackBeyondPreferredPool confirms the preferred
// pool is tried first and a full pool falls back to the remaining mount
// points without disturbing the preferred-pool index.
func TestPickRoundRobinFallsBackBeyondPreferredPool(t *testing.T) {
	h := testutil.New(t, testutil.Tree{
		Volumes: []testutil.Volume{
			{MountPoint: "vol1"},
			{MountPoint: "vol2"},
			{MountPoint: "vol3"},
		},
	})
	vol1, vol2, vol3 := h.VolumePath("vol1"), h.VolumePath("vol2"), h.VolumePath("vol3")

	// Preferred pool is [vol1, vol2]; vol3 is fallback-only.
	m := New([]string{vol1, vol2, vol3}, config.StrategyRoundRobin, 100, 2)

	first, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick 1: %v", err)
	}
	if first != vol1 {
		t.Fatalf("Pick 1 = %q, want preferred-pool volume %q", first, vol1)
	}

	second, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick 2: %v", err)
	}
	if second != vol2 {
		t.Fatalf("Pick 2 = %q, want preferred-pool volume %q", second, vol2)
	}

	// Make the whole preferred pool unsuitable; expect the fallback volume.
	realStat := statMountPoint
	t.Cleanup(func() { statMountPoint = realStat })
	statMountPoint = func(mp string) (Usage, error) {
		u, err := realStat(mp)
		if mp == vol1 || mp == vol2 {
			u.UsedPct = 100
		}
		return u, err
	}
	fallback, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick fallback: %v", err)
	}
	if fallback != vol3 {
		t.Fatalf("Pick fallback = %q, want fallback volume %q", fallback, vol3)
	}

	// The fallback pick leaves the preferred-pool index where it was.
	statMountPoint = realStat
	next, err := m.Pick(1)
	if err != nil {
		t.Fatalf("Pick after fallback: %v", err)
	}
	if next != vol1 {
		t.Errorf("Pick after fallback = %q, want preferred-pool volume %q", next, vol1)
	}
}

func TestUsageReportsAllMountPoints(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	m := New([]string{dirA, dirB}, config.StrategyFill, 100, 0)

	usages, err := m.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(usages) != 2 {
		t.Fatalf("expected 2 usage entries, got %d", len(usages))
	}
	for _, u := range usages {
		if u.TotalBytes <= 0 {
			t.Errorf("TotalBytes for %s = %d, want > 0", u.MountPoint, u.TotalBytes)
		}
	}
}
