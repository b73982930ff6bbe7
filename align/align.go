// Package align is a filtered alignment-record reader: it opens a
// BAM file and hands back a per-contig iterator of records that
// still need record-level filtering and coverage accounting applied
// by the caller. The Reader/Iterator interface shape follows the
// teacher's bamprovider.Provider/Iterator split, reduced down to the
// single operation this toolkit needs — a filtered record stream for
// one (sample, contig) — backed directly by github.com/biogo/hts/bam
// and github.com/biogo/hts/sam, the same direct-import choice the
// teacher's own bam-sort command makes.
package align

import (
	"context"
	"io"
	"runtime"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/file"
	"github.com/grailbio/cntools/cnerrors"
)

// Filters are the record-level acceptance criteria from spec.md §4.2,
// applied before a record's bases are ever handed to a coverage
// aggregator.
type Filters struct {
	MinMapQ             int
	KeepDuplicates      bool
	IgnoreDuplicateFlag bool
	MinTemplateLen      int
	MaxTemplateLen      int
	MinBaseQual         int
}

// Accept reports whether rec passes every record-level filter in f.
// It does not perform paired-overlap dedup, which requires
// cross-record state the caller (package coverage) owns.
func (f Filters) Accept(rec *sam.Record) bool {
	if rec.Flags&sam.Unmapped != 0 {
		return false
	}
	if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
		return false
	}
	if int(rec.MapQ) < f.MinMapQ {
		return false
	}
	if !f.KeepDuplicates && !f.IgnoreDuplicateFlag && rec.Flags&sam.Duplicate != 0 {
		return false
	}
	if f.MinTemplateLen > 0 || f.MaxTemplateLen > 0 {
		tlen := rec.TempLen
		if tlen < 0 {
			tlen = -tlen
		}
		if f.MinTemplateLen > 0 && tlen < f.MinTemplateLen {
			return false
		}
		if f.MaxTemplateLen > 0 && tlen > f.MaxTemplateLen {
			return false
		}
	}
	return true
}

// Reader is a per-sample alignment file handle: it exposes the
// header and opens filtered iterators over a single contig at a
// time. threads is passed straight through to the underlying bgzf
// decompressor as hts-threads (spec.md §6's `-@/--hts-threads`).
type Reader struct {
	closer io.Closer
	bam    *bam.Reader
}

// Open opens the BAM file at path using threads decompression helper
// threads. Only BAM is decoded: a SAM text file or a CRAM file fails
// in bam.NewReader and is returned as an InputFormat error. A path
// that cannot be opened is a Config error.
func Open(ctx context.Context, path string, threads int) (*Reader, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, cnerrors.E(cnerrors.Config, err, "opening alignment file", path)
	}
	r, err := bam.NewReader(f.Reader(ctx), threads)
	if err != nil {
		return nil, cnerrors.E(cnerrors.InputFormat, err, "parsing alignment file", path)
	}
	return &Reader{closer: fileCloser{ctx: ctx, f: f}, bam: r}, nil
}

type fileCloser struct {
	ctx context.Context
	f   file.File
}

func (c fileCloser) Close() error { return c.f.Close(c.ctx) }

// Header returns the alignment file's header.
func (r *Reader) Header() *sam.Header { return r.bam.Header() }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.closer.Close() }

// Iterator streams records belonging to a single named contig, in
// file order, applying no filtering of its own (filtering is
// Filters.Accept plus the caller's paired-overlap dedup).
//
// The underlying reader is not index-seekable in this pack (no
// verified .bai Chunk-query API ships in the retrieved sources), so
// Iterator scans the whole file and skips records for other
// references; this is the same I/O cost an external htslib-backed
// reader would hide behind its own threading, which is exactly the
// collaborator spec.md delegates this concern to.
type Iterator struct {
	r       *bam.Reader
	refID   int
	rec     *sam.Record
	err     error
	started bool
}

// NewIterator returns an Iterator over contig's records.
func (r *Reader) NewIterator(contig string) (*Iterator, error) {
	refID := -1
	for i, ref := range r.bam.Header().Refs() {
		if ref.Name() == contig {
			refID = i
			break
		}
	}
	if refID < 0 {
		return nil, cnerrors.E(cnerrors.Config, "contig not present in alignment header", contig)
	}
	return &Iterator{r: r.bam, refID: refID}, nil
}

// Scan advances to the next record belonging to the iterator's
// contig, returning false at end of file or on error.
func (it *Iterator) Scan() bool {
	for {
		rec, err := it.r.Read()
		if err != nil {
			if err != io.EOF {
				it.err = cnerrors.E(cnerrors.IO, err, "reading alignment record")
			}
			return false
		}
		if rec.Ref == nil || rec.Ref.ID() != it.refID {
			continue
		}
		it.rec = rec
		return true
	}
}

// Record returns the current record. Valid only after Scan returns
// true.
func (it *Iterator) Record() *sam.Record { return it.rec }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }
