package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cntools/coverage"
	"github.com/grailbio/cntools/encoding/fasta"
	"github.com/grailbio/cntools/refindex"
	"github.com/grailbio/cntools/sample"
)

func TestInterleaveOrdersContigMajor(t *testing.T) {
	contigs := []refindex.Contig{{Name: "chr1"}, {Name: "chr2"}}
	units := interleave(2, contigs)
	if len(units) != 4 {
		t.Fatalf("got %d units, want 4", len(units))
	}
	// contig-major: both samples visit chr1 before either visits chr2.
	for i := 0; i < 2; i++ {
		if units[i].contig != "chr1" {
			t.Errorf("units[%d].contig = %s, want chr1", i, units[i].contig)
		}
	}
	for i := 2; i < 4; i++ {
		if units[i].contig != "chr2" {
			t.Errorf("units[%d].contig = %s, want chr2", i, units[i].contig)
		}
	}
}

func mustLayout(t *testing.T) *refindex.Layout {
	t.Helper()
	fa, err := fasta.New(strings.NewReader(">chrA\n" + strings.Repeat("ACGT", 10) + "\n"))
	if err != nil {
		t.Fatalf("fasta.New: %v", err)
	}
	layout, err := refindex.NewLayout(fa, []refindex.Contig{{Name: "chrA", Length: 40, UseForGC: true}}, 10)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return layout
}

func TestFinalizeSampleWritesOneFilePerContig(t *testing.T) {
	layout := mustLayout(t)
	bins := layout.Bins("chrA")
	stats := make([]coverage.BinStats, len(bins))
	for i, b := range bins {
		stats[i] = coverage.BinStats{Bin: b, MeanCoverage: 40, GCFraction: 0.5, GCValid: true, Valid: true}
	}
	s := sample.Sample{Name: "s1", Bins: map[string][]coverage.BinStats{"chrA": stats}}

	dir := t.TempDir()
	ctx := vcontext.Background()
	if err := finalizeSample(ctx, &s, layout, Options{OutputDir: dir, Prefix: "cov"}); err != nil {
		t.Fatalf("finalizeSample: %v", err)
	}

	outPath := filepath.Join(dir, "s1", "cov_chrA.txt")
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(bins) {
		t.Fatalf("got %d lines, want %d", len(lines), len(bins))
	}
	for _, line := range lines {
		cols := strings.Split(line, "\t")
		if len(cols) != 4 {
			t.Fatalf("line %q has %d columns, want 4", line, len(cols))
		}
		if cols[0] != "chrA" {
			t.Errorf("contig column = %q, want chrA", cols[0])
		}
		if cols[2] != "2.0000" {
			t.Errorf("cn_estimate column = %q, want 2.0000", cols[2])
		}
	}
	if _, err := os.Stat(outPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away")
	}
}

func TestFinalizeSampleSkipsInvalidBins(t *testing.T) {
	layout := mustLayout(t)
	bins := layout.Bins("chrA")
	stats := make([]coverage.BinStats, len(bins))
	for i, b := range bins {
		stats[i] = coverage.BinStats{Bin: b, MeanCoverage: 40, GCFraction: 0.5, GCValid: true, Valid: i != 0}
	}
	s := sample.Sample{Name: "s1", Bins: map[string][]coverage.BinStats{"chrA": stats}}

	dir := t.TempDir()
	ctx := vcontext.Background()
	if err := finalizeSample(ctx, &s, layout, Options{OutputDir: dir, Prefix: "cov"}); err != nil {
		t.Fatalf("finalizeSample: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "s1", "cov_chrA.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(bins)-1 {
		t.Fatalf("got %d lines, want %d (one invalid bin skipped)", len(lines), len(bins)-1)
	}
}
