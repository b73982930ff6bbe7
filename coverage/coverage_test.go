package coverage_test

import (
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/cntools/align"
	"github.com/grailbio/cntools/coverage"
	"github.com/grailbio/cntools/encoding/fasta"
	"github.com/grailbio/cntools/refindex"
)

const testFasta = ">chrA\n" + strings.Repeat("ACGT", 10) + "\n" // 40bp, GC=0.5 uniform

func mustLayout(t *testing.T, blockSize int) *refindex.Layout {
	t.Helper()
	fa, err := fasta.New(strings.NewReader(testFasta))
	if err != nil {
		t.Fatalf("fasta.New: %v", err)
	}
	contigs := []refindex.Contig{{Name: "chrA", Length: 40, UseForGC: true}}
	layout, err := refindex.NewLayout(fa, contigs, blockSize)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return layout
}

func newRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar sam.Cigar) *sam.Record {
	return &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		Flags: flags,
		Cigar: cigar,
		MapQ:  40,
		Qual:  make([]byte, 10),
	}
}

func TestUnfilteredRecordCountsAllMatchedBases(t *testing.T) {
	layout := mustLayout(t, 10)
	header, err := sam.NewHeader(nil, []*sam.Reference{mustRef(t, "chrA", 40)})
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	ref := header.Refs()[0]

	agg, err := coverage.New(layout, "chrA", align.Filters{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newRecord("r1", ref, 0, 0, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)})
	agg.Process(rec)
	stats := agg.Finalize()
	if stats[0].BasesCovered != 10 {
		t.Errorf("BasesCovered = %d, want 10", stats[0].BasesCovered)
	}
	if !stats[0].Valid {
		t.Errorf("expected bin 0 valid")
	}
}

func TestMapQFilterRejectsLowQualityAlignments(t *testing.T) {
	layout := mustLayout(t, 10)
	header, _ := sam.NewHeader(nil, []*sam.Reference{mustRef(t, "chrA", 40)})
	ref := header.Refs()[0]

	agg, err := coverage.New(layout, "chrA", align.Filters{MinMapQ: 30})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newRecord("r1", ref, 0, 0, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)})
	rec.MapQ = 10
	agg.Process(rec)
	stats := agg.Finalize()
	if stats[0].BasesCovered != 0 {
		t.Errorf("BasesCovered = %d, want 0 (filtered by mapq)", stats[0].BasesCovered)
	}
}

func TestOverlappingMatesCountedOnce(t *testing.T) {
	layout := mustLayout(t, 40)
	header, _ := sam.NewHeader(nil, []*sam.Reference{mustRef(t, "chrA", 40)})
	ref := header.Refs()[0]

	agg, err := coverage.New(layout, "chrA", align.Filters{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	flags := sam.Paired | sam.ProperPair
	r1 := newRecord("frag1", ref, 0, flags, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)})
	r1.MateRef = ref
	r1.MatePos = 5
	r2 := newRecord("frag1", ref, 5, flags, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)})
	r2.MateRef = ref
	r2.MatePos = 0

	agg.Process(r1)
	agg.Process(r2)
	stats := agg.Finalize()
	// r1 covers [0,10), r2 covers [5,15): union is 15 bases, not 20.
	if stats[0].BasesCovered != 15 {
		t.Errorf("BasesCovered = %d, want 15 (overlap deduped)", stats[0].BasesCovered)
	}
}

func mustRef(t *testing.T, name string, length int) *sam.Reference {
	t.Helper()
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	if err != nil {
		t.Fatalf("sam.NewReference: %v", err)
	}
	return ref
}
