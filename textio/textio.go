// Package textio reads the variable-arity TSV inputs shared by both
// CLIs (sample lists, contig lists, region lists): transparent
// decompression via github.com/grailbio/base/compress, file access
// via github.com/grailbio/base/file, '#'-comment and blank-line
// skipping. Grounded on
// fusion/parsegencode/parsegencode.go's readRawGTF, which opens a
// file the same way. That function uses
// github.com/grailbio/base/tsv for its fixed-9-column GTF rows; our
// inputs have a variable column count per row (spec.md §6: "1-2
// columns", "3-4 columns"), which tsv.Reader's struct-reflection API
// is not a fit for, so rows are split by hand instead.
package textio

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/cntools/cnerrors"
)

// ReadRows opens path (optionally gzip/bgzip/xz/zstd/bzip2
// compressed, detected by compress.NewReaderPath), skips blank lines
// and lines beginning with '#', and splits each remaining line on
// tabs.
func ReadRows(ctx context.Context, path string) ([][]string, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, cnerrors.E(cnerrors.Config, err, "opening", path)
	}
	defer f.Close(ctx)

	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, f.Name()); u != nil {
		r = u
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	var rows [][]string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, cnerrors.E(cnerrors.IO, err, "reading", path)
	}
	return rows, nil
}
