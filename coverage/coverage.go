// Package coverage implements the Coverage Aggregator (spec.md §4.2):
// per (sample, contig), it consumes filtered alignment records and
// accumulates per-base coverage into fixed-size bins, exposing
// Finalize to yield mean coverage per valid bin. CIGAR-walking and
// paired-overlap bookkeeping are grounded on
// pileup/snp/pileup.go's alignRelevantBases and
// markduplicates/read_pair.go's per-name mate tracking, respectively.
package coverage

import (
	"github.com/biogo/hts/sam"
	"github.com/grailbio/cntools/align"
	"github.com/grailbio/cntools/refindex"
)

// BinStats is the per-bin running state and, after Finalize, the
// derived mean coverage, per spec.md §3.
type BinStats struct {
	Bin          refindex.Bin
	BasesCovered int64
	UsableBases  int64
	GCFraction   float64
	GCValid      bool
	MeanCoverage float64
	Valid        bool
}

// openMate records the reference positions already counted for the
// first-seen read of a properly-paired fragment, so its mate does not
// double-count the overlap. Grounded on markduplicates/read_pair.go's
// readPair bookkeeping, simplified to a single contig's scope.
type openMate struct {
	positions map[int]struct{}
}

// Aggregator accumulates coverage for one (sample, contig) pair.
type Aggregator struct {
	contig    string
	blockSize int
	bins      []refindex.Bin
	stats     []BinStats
	filters   align.Filters
	openMates map[string]openMate
}

// New creates an Aggregator for contig, pre-populating each bin's
// reference composition (usable bases, GC fraction) from layout.
func New(layout *refindex.Layout, contig string, filters align.Filters) (*Aggregator, error) {
	bins := layout.Bins(contig)
	stats := make([]BinStats, len(bins))
	for i, b := range bins {
		c, err := layout.Composition(b)
		if err != nil {
			return nil, err
		}
		stats[i] = BinStats{Bin: b, UsableBases: int64(c.UsableBases), GCFraction: c.GCFraction, GCValid: c.GCValid}
	}
	return &Aggregator{
		contig:    contig,
		blockSize: layout.BlockSize(),
		bins:      bins,
		stats:     stats,
		filters:   filters,
		openMates: make(map[string]openMate),
	}, nil
}

// isPairCandidate reports whether rec is part of a properly-paired,
// same-contig fragment and therefore subject to overlap dedup.
func isPairCandidate(rec *sam.Record) bool {
	if rec.Flags&sam.Paired == 0 || rec.Flags&sam.ProperPair == 0 {
		return false
	}
	if rec.Ref == nil || rec.MateRef == nil {
		return false
	}
	return rec.Ref.ID() == rec.MateRef.ID()
}

// coveredPositions walks rec's CIGAR, returning the reference
// positions covered by sufficiently-high-quality aligned read bases.
// Deletions and reference-skip ('N') operations contribute no
// positions; insertions and soft clips only advance the read cursor,
// and hard clips and padding advance neither cursor. Grounded on pileup/snp/pileup.go's alignRelevantBases
// CIGAR-op switch.
func coveredPositions(rec *sam.Record, minBaseQual int) []int {
	positions := make([]int, 0, rec.Seq.Length)
	refPos := rec.Pos
	readPos := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				if qualOK(rec, readPos+i, minBaseQual) {
					positions = append(positions, refPos+i)
				}
			}
			refPos += n
			readPos += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			readPos += n
		case sam.CigarDeletion, sam.CigarSkipped:
			refPos += n
		case sam.CigarHardClipped, sam.CigarPadded:
			// No effect on either cursor's covered-base accounting.
		}
	}
	return positions
}

func qualOK(rec *sam.Record, readPos, minBaseQual int) bool {
	if minBaseQual <= 0 || len(rec.Qual) == 0 {
		return true
	}
	if readPos < 0 || readPos >= len(rec.Qual) {
		return true
	}
	return int(rec.Qual[readPos]) >= minBaseQual
}

func (a *Aggregator) binIndex(pos int) int {
	if len(a.bins) == 0 {
		return -1
	}
	idx := pos / a.blockSize
	if idx < 0 {
		return -1
	}
	if idx >= len(a.bins) {
		idx = len(a.bins) - 1
	}
	if pos < a.bins[idx].Start || pos >= a.bins[idx].End {
		return -1
	}
	return idx
}

func (a *Aggregator) addPositions(positions []int) {
	for _, p := range positions {
		if idx := a.binIndex(p); idx >= 0 {
			a.stats[idx].BasesCovered++
		}
	}
}

// Process applies the record-level filters and CIGAR-walk counting
// policy of spec.md §4.2 to rec, updating this aggregator's running
// bin counters. Records on a different contig than this aggregator
// are rejected by the caller before Process is invoked.
func (a *Aggregator) Process(rec *sam.Record) {
	if !a.filters.Accept(rec) {
		return
	}
	positions := coveredPositions(rec, a.filters.MinBaseQual)
	if !isPairCandidate(rec) {
		a.addPositions(positions)
		return
	}
	name := rec.Name
	if mate, ok := a.openMates[name]; ok {
		fresh := make([]int, 0, len(positions))
		for _, p := range positions {
			if _, seen := mate.positions[p]; !seen {
				fresh = append(fresh, p)
			}
		}
		a.addPositions(fresh)
		delete(a.openMates, name)
		return
	}
	a.addPositions(positions)
	seen := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		seen[p] = struct{}{}
	}
	a.openMates[name] = openMate{positions: seen}
}

// Finalize computes mean coverage for each bin and marks invalid any
// bin with zero usable bases or predominantly-ambiguous reference
// content, per spec.md §3's validity rule and §4.2's Finalize(contig).
// The aggregator's pending mate bookkeeping is released; the returned
// BinStats keep BasesCovered next to MeanCoverage. Finalize must be
// called exactly once.
func (a *Aggregator) Finalize() []BinStats {
	for i := range a.stats {
		s := &a.stats[i]
		if s.UsableBases == 0 || !s.GCValid {
			s.Valid = false
			continue
		}
		s.MeanCoverage = float64(s.BasesCovered) / float64(s.UsableBases)
		s.Valid = true
	}
	a.openMates = nil
	return a.stats
}
