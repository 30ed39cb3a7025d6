package auditor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ivoronin/copeer/internal/manifest"
)

func writeMappingFile(t *testing.T, dir, name string, rows []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, r := range rows {
		content += r + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}
	return path
}

func TestReadMappingSkipsHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, "m.csv", []string{
		"source_path,destination_path",
		"/mnt/src/a.bin,/mnt/dst/a.bin",
	})
	rows, err := ReadMapping(path)
	if err != nil {
		t.Fatalf("ReadMapping: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].SourceKey != "/mnt/src/a.bin" {
		t.Errorf("SourceKey = %q", rows[0].SourceKey)
	}
}

func TestReadMappingHandlesQuotedCommaInPath(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, "m.csv", []string{
		`"/mnt/src/a, weird.bin",/mnt/dst/a.bin`,
	})
	rows, err := ReadMapping(path)
	if err != nil {
		t.Fatalf("ReadMapping: %v", err)
	}
	if len(rows) != 1 || rows[0].SourceKey != "/mnt/src/a, weird.bin" {
		t.Fatalf("rows = %+v, want comma preserved inside the quoted field", rows)
	}
}

func TestWriteMasterEscapesCommaAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.csv")
	rows := []Row{{SourceKey: "/mnt/src/a, b.bin", DestPath: "/mnt/dst/a, b.bin"}}

	if err := WriteMaster(path, rows); err != nil {
		t.Fatalf("WriteMaster: %v", err)
	}
	got, err := ReadMapping(path)
	if err != nil {
		t.Fatalf("ReadMapping round-trip: %v", err)
	}
	if len(got) != 1 || got[0] != rows[0] {
		t.Fatalf("round-tripped rows = %+v, want %+v", got, rows)
	}
}

func TestMergeDedupesAndCountsPerFile(t *testing.T) {
	dir := t.TempDir()
	p1 := writeMappingFile(t, dir, "m1.csv", []string{
		"/mnt/src/a.bin,/mnt/dst/a.bin",
		"/mnt/src/b.bin,/mnt/dst/b.bin",
	})
	p2 := writeMappingFile(t, dir, "m2.csv", []string{
		"/mnt/src/b.bin,/mnt/dst/b.bin", // duplicate of m1's row
		"/mnt/src/c.bin,/mnt/dst/c.bin",
	})

	result, err := Merge([]string{p1, p2})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("expected 3 unique rows, got %d", len(result.Rows))
	}
	if result.PerFile[p1] != 2 || result.PerFile[p2] != 2 {
		t.Errorf("PerFile = %v", result.PerFile)
	}
}

func TestVerifyReportsFoundAndMissing(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.bin")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := []Row{
		{SourceKey: "/mnt/src/a.bin", DestPath: existing},
		{SourceKey: "/mnt/src/b.bin", DestPath: filepath.Join(dir, "missing.bin")},
	}
	res := Verify(rows)
	if len(res.Found) != 1 || len(res.Missing) != 1 {
		t.Fatalf("Verify result = %+v", res)
	}
}

func TestNormalizeDirMntPrefix(t *testing.T) {
	got := NormalizeDir("/mnt/vol1/project/shots/seq01/render.0001.dpx")
	want := "project/shots/seq01/render.0001.dpx"
	if got != want {
		t.Errorf("NormalizeDir = %q, want %q", got, want)
	}
}

func TestNormalizeDirFallback(t *testing.T) {
	got := NormalizeDir("/a/b/c/d/e/f.bin")
	want := "c/d/e/f.bin"
	if got != want {
		t.Errorf("NormalizeDir = %q, want %q", got, want)
	}
}

func TestStatsGroupsByNormalizedDir(t *testing.T) {
	dir := t.TempDir()
	existingSrc := filepath.Join(dir, "mnt", "vol1", "proj", "shots", "seq01", "a.dpx")
	if err := os.MkdirAll(filepath.Dir(existingSrc), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(existingSrc, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := []Row{
		{SourceKey: existingSrc, DestPath: filepath.Join(dir, "missing-dest.bin")},
	}
	stats := Stats(rows)
	if len(stats) != 1 {
		t.Fatalf("expected 1 directory group, got %d", len(stats))
	}
	if stats[0].SourceExists != 1 {
		t.Errorf("SourceExists = %d, want 1", stats[0].SourceExists)
	}
	if stats[0].DestExists != 0 {
		t.Errorf("DestExists = %d, want 0", stats[0].DestExists)
	}
}

func TestFilterIntersectsByNormalizedSource(t *testing.T) {
	rows := []Row{
		{SourceKey: "/a/b/c/d/keep.bin", DestPath: "/dst/keep.bin"},
		{SourceKey: "/a/b/c/d/drop.bin", DestPath: "/dst/drop.bin"},
	}
	plan := map[string]bool{NormalizeDir("/a/b/c/d/keep.bin"): true}

	out := Filter(rows, plan)
	if len(out) != 1 || out[0].SourceKey != "/a/b/c/d/keep.bin" {
		t.Fatalf("Filter result = %+v", out)
	}
}

func TestAnalyzeFindsMissingRecords(t *testing.T) {
	records := []manifest.Record{
		{AbsPath: "/mnt/src/project/a.bin", Size: 10},
		{AbsPath: "/mnt/src/project/b.bin", Size: 20},
	}
	stateKeys := []string{"/mnt/src/project/a.bin"}

	res := Analyze(records, stateKeys)
	if res.Intended != 2 || res.Processed != 1 {
		t.Fatalf("Analyze result = %+v", res)
	}
	if len(res.Missing) != 1 || res.Missing[0].AbsPath != "/mnt/src/project/b.bin" {
		t.Fatalf("Missing = %+v", res.Missing)
	}
}

func TestAnalyzeDetectsSourceRoot(t *testing.T) {
	records := []manifest.Record{
		{AbsPath: "project/a.bin", Size: 10},
	}
	stateKeys := []string{"/mnt/src/project/a.bin"}

	res := Analyze(records, stateKeys)
	if res.SourceRoot != "/mnt/src/" {
		t.Errorf("SourceRoot = %q, want %q", res.SourceRoot, "/mnt/src/")
	}
}

func TestWriteMissingManifestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "missing.csv")
	missing := []manifest.Record{{AbsPath: "/mnt/src/x.bin", Size: 42}}

	if err := WriteMissingManifest(out, missing); err != nil {
		t.Fatalf("WriteMissingManifest: %v", err)
	}

	recs, _, err := manifest.ReadManifest(out, ';', "", nil)
	if err != nil {
		t.Fatalf("ReadManifest round-trip: %v", err)
	}
	if len(recs) != 1 || recs[0].Size != 42 {
		t.Fatalf("round-tripped records = %+v", recs)
	}
}
