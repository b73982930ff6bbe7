// Package refindex loads the reference FASTA index and contig list and
// builds the fixed-size bin tiling that every downstream component
// keys its state on. It adapts
// github.com/grailbio/cntools/encoding/fasta (an indexed, random-access
// FASTA reader) with a bin-tiling and GC-fraction layer that the
// teacher package does not itself need.
package refindex

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/cntools/cnerrors"
	"github.com/grailbio/cntools/encoding/fasta"
	"github.com/grailbio/cntools/textio"
)

// Contig is one reference sequence participating in the run.
type Contig struct {
	Name     string
	Length   int
	UseForGC bool
}

// Bin is a half-open, fixed-size window [Start, End) of a Contig. The
// terminal bin of a contig may be shorter than BlockSize.
type Bin struct {
	Contig string
	Start  int
	End    int
}

// Mid returns the integer midpoint of the bin.
func (b Bin) Mid() int { return (b.Start + b.End) / 2 }

// Len returns the bin width in bases.
func (b Bin) Len() int { return b.End - b.Start }

// minUnambigFraction is the minimum fraction of a bin's bases that
// must be unambiguous (A/C/G/T) for its GC fraction to be considered
// valid.
const minUnambigFraction = 0.5

// Layout is the reference bin tiling for a run: the ordered contig
// list, each contig's bins, and a handle on the reference FASTA for
// on-demand GC-fraction computation.
type Layout struct {
	blockSize int
	contigs   []Contig
	bins      map[string][]Bin
	fa        fasta.Fasta
}

// LoadFasta opens path with its accompanying .fai index at indexPath
// and returns a random-access Fasta. The underlying reader is opened
// directly (not through compress.NewReaderPath) because indexed
// random access seeks to byte offsets recorded in the .fai file,
// which assumes an uncompressed (or, per samtools convention,
// bgzipped-with-a-.gzi-companion) file; plain seekable access is the
// only mode this spec requires.
func LoadFasta(ctx context.Context, path, indexPath string) (fasta.Fasta, error) {
	faFile, err := file.Open(ctx, path)
	if err != nil {
		return nil, cnerrors.E(cnerrors.Config, err, "opening reference FASTA", path)
	}
	idxFile, err := file.Open(ctx, indexPath)
	if err != nil {
		return nil, cnerrors.E(cnerrors.Config, err, "opening FASTA index", indexPath)
	}
	faSeeker, ok := faFile.Reader(ctx).(io.ReadSeeker)
	if !ok {
		return nil, cnerrors.E(cnerrors.Config, "reference FASTA reader is not seekable", path)
	}
	fa, err := fasta.NewIndexed(faSeeker, idxFile.Reader(ctx))
	if err != nil {
		return nil, cnerrors.E(cnerrors.InputFormat, err, "parsing FASTA index", indexPath)
	}
	return fa, nil
}

// truthy/falsy token sets per spec.md §6.
var truthyTokens = map[string]bool{"true": true, "yes": true, "1": true, "t": true, "y": true}
var falsyTokens = map[string]bool{"false": true, "no": true, "0": true, "f": true, "n": true}

// ReadContigList parses the contig list TSV (spec.md §6): no header,
// 1-2 columns, `contig_name[<TAB>use_for_gc]`. Comment ('#') and
// blank lines are ignored. Contig lengths are resolved against fa.
func ReadContigList(ctx context.Context, path string, fa fasta.Fasta) ([]Contig, error) {
	rows, err := textio.ReadRows(ctx, path)
	if err != nil {
		return nil, err
	}
	var contigs []Contig
	for _, row := range rows {
		if len(row) < 1 || len(row) > 2 {
			return nil, cnerrors.InputFormatf("contig list row has %d columns, want 1-2", len(row))
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			continue
		}
		length, err := fa.Len(name)
		if err != nil {
			return nil, cnerrors.E(cnerrors.Config, err, "contig not found in reference", name)
		}
		useForGC := true
		if len(row) == 2 {
			tok := strings.ToLower(strings.TrimSpace(row[1]))
			if tok != "" {
				if falsyTokens[tok] {
					useForGC = false
				} else if !truthyTokens[tok] {
					return nil, cnerrors.InputFormatf("unrecognized use_for_gc value %q for contig %s", row[1], name)
				}
			}
		}
		contigs = append(contigs, Contig{Name: name, Length: int(length), UseForGC: useForGC})
	}
	return contigs, nil
}

// NewLayout tiles every contig into fixed-size, non-overlapping bins
// of blockSize, retaining a possibly-shorter terminal bin, per
// spec.md §4.1.
func NewLayout(fa fasta.Fasta, contigs []Contig, blockSize int) (*Layout, error) {
	if blockSize <= 0 {
		return nil, cnerrors.Configf("block-size must be positive, got %d", blockSize)
	}
	l := &Layout{blockSize: blockSize, contigs: contigs, bins: make(map[string][]Bin, len(contigs)), fa: fa}
	for _, c := range contigs {
		var bins []Bin
		for start := 0; start < c.Length; start += blockSize {
			end := start + blockSize
			if end > c.Length {
				end = c.Length
			}
			bins = append(bins, Bin{Contig: c.Name, Start: start, End: end})
		}
		l.bins[c.Name] = bins
	}
	return l, nil
}

// Contigs returns the ordered contig list.
func (l *Layout) Contigs() []Contig { return l.contigs }

// Bins returns the bin tiling for the named contig.
func (l *Layout) Bins(contig string) []Bin { return l.bins[contig] }

// BlockSize returns the configured bin width.
func (l *Layout) BlockSize() int { return l.blockSize }

// Composition is a bin's reference-sequence summary: how many bases
// are unambiguous (usable as a coverage denominator, per spec.md
// §3's BinStats.usable_bases) and, among those, the GC fraction.
type Composition struct {
	UsableBases int
	GCFraction  float64
	GCValid     bool
}

// GCFraction computes the fraction of G/C among unambiguous reference
// bases in bin, per spec.md §4.1. ok is false when fewer than 50% of
// the bin's bases are unambiguous, in which case the bin's GC
// fraction (and thus downstream CN estimate) is invalid.
func (l *Layout) GCFraction(bin Bin) (frac float64, ok bool, err error) {
	c, err := l.Composition(bin)
	if err != nil {
		return 0, false, err
	}
	return c.GCFraction, c.GCValid, nil
}

// Composition computes the bin's usable-base count and GC fraction in
// a single reference-sequence pass.
func (l *Layout) Composition(bin Bin) (Composition, error) {
	seq, err := l.fa.Get(bin.Contig, uint64(bin.Start), uint64(bin.End))
	if err != nil {
		return Composition{}, cnerrors.E(cnerrors.Data, err, "reading reference sequence", bin.Contig)
	}
	var unambig, gc int
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'a', 'T', 't':
			unambig++
		case 'C', 'c', 'G', 'g':
			unambig++
			gc++
		}
	}
	c := Composition{UsableBases: unambig}
	if float64(unambig) >= minUnambigFraction*float64(len(seq)) && unambig > 0 {
		c.GCFraction = float64(gc) / float64(unambig)
		c.GCValid = true
	}
	return c, nil
}

// ParseContigLengthField parses a decimal contig length, returning an
// InputFormat error for a non-integer value. It does not consult a
// FASTA index.
func ParseContigLengthField(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, cnerrors.InputFormatf("invalid contig length %q", s)
	}
	return n, nil
}
