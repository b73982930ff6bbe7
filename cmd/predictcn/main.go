/*
predictcn converts one or more aligned sample files (BAM only) into
per-bin copy-number estimates, normalized per-sample for GC-content
bias.

Usage: predictcn [OPTIONS] sample-list contig-list reference.fasta

reference.fasta must have an accompanying samtools-style index at
reference.fasta + ".fai".
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cntools/align"
	"github.com/grailbio/cntools/cmdutil"
	"github.com/grailbio/cntools/refindex"
	"github.com/grailbio/cntools/sample"
	"github.com/grailbio/cntools/scheduler"
)

var (
	blockSize      = flag.Int("block-size", 10000, "bin width in bases")
	mapq           = flag.Int("mapq", 0, "minimum MAPQ; reads below are skipped")
	minBaseQual    = flag.Int("qual", 0, "minimum per-base quality contributing to coverage")
	minTemplateLen = flag.Int("min-template-len", 0, "minimum absolute template length; 0 disables the filter")
	maxTemplateLen = flag.Int("max-template-len", 0, "maximum absolute template length; 0 disables the filter")
	keepDuplicates = flag.Bool("keep-duplicates", false, "count reads flagged as PCR/optical duplicates")
	ignoreDupFlag  = flag.Bool("ignore-duplicate-flag", false, "treat the duplicate SAM flag as unset")
	prefix         = flag.String("prefix", "cov", "output file name prefix")
	dir            = flag.String("dir", ".", "output root directory")
	threads        = flag.Int("threads", runtime.NumCPU(), "worker task slots (T)")
	htsThreads     = flag.Int("hts-threads", runtime.NumCPU(), "per-reader alignment decompression threads")
	readers        = flag.Int("readers", 0, "reader task slots (R); 0 selects (threads+3)/4")
	loglevel       = flag.String("loglevel", "info", "debug, info, warn, or error")
	showVersion    = flag.Bool("version", false, "print the version and exit")
)

// version identifies this build of predictcn; the pack carries no
// build-info injection mechanism, so it's a plain constant.
const version = "predictcn (github.com/grailbio/cntools) 0.1.0"

func init() {
	flag.IntVar(blockSize, "b", 10000, "shorthand for -block-size")
	flag.IntVar(mapq, "Q", 0, "shorthand for -mapq")
	flag.IntVar(minBaseQual, "q", 0, "shorthand for -qual")
	flag.IntVar(minTemplateLen, "M", 0, "shorthand for -min-template-len")
	flag.IntVar(maxTemplateLen, "m", 0, "shorthand for -max-template-len")
	flag.BoolVar(keepDuplicates, "k", false, "shorthand for -keep-duplicates")
	flag.BoolVar(ignoreDupFlag, "D", false, "shorthand for -ignore-duplicate-flag")
	flag.StringVar(prefix, "p", "cov", "shorthand for -prefix")
	flag.StringVar(dir, "d", ".", "shorthand for -dir")
	flag.IntVar(threads, "t", runtime.NumCPU(), "shorthand for -threads")
	flag.IntVar(htsThreads, "@", runtime.NumCPU(), "shorthand for -hts-threads")
	flag.IntVar(readers, "R", 0, "shorthand for -readers")
	flag.StringVar(loglevel, "l", "info", "shorthand for -loglevel")
	flag.BoolVar(showVersion, "V", false, "shorthand for -version")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] sample-list contig-list reference.fasta\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cmdutil.SetLevel(cmdutil.ParseLevel(*loglevel))

	args := flag.Args()
	if len(args) != 3 {
		log.Fatalf("expected 3 positional arguments (sample-list, contig-list, reference.fasta), got %d: %s", len(args), strings.Join(args, " "))
	}
	sampleListPath, contigListPath, referencePath := args[0], args[1], args[2]

	t := *threads
	if t <= 0 {
		t = runtime.NumCPU()
	}
	r := *readers
	if r <= 0 {
		r = (t + 3) / 4
	}
	hts := clampHTSThreads(r, *htsThreads, t)

	ctx := vcontext.Background()

	fa, err := refindex.LoadFasta(ctx, referencePath, referencePath+".fai")
	if err != nil {
		log.Fatalf("%v", err)
	}
	contigs, err := refindex.ReadContigList(ctx, contigListPath, fa)
	if err != nil {
		log.Fatalf("%v", err)
	}
	layout, err := refindex.NewLayout(fa, contigs, *blockSize)
	if err != nil {
		log.Fatalf("%v", err)
	}
	samples, err := sample.ReadPredictList(ctx, sampleListPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	opts := scheduler.Options{
		Readers:    r,
		Workers:    t,
		HTSThreads: hts,
		Prefix:     *prefix,
		OutputDir:  *dir,
		Filters: align.Filters{
			MinMapQ:             *mapq,
			KeepDuplicates:      *keepDuplicates,
			IgnoreDuplicateFlag: *ignoreDupFlag,
			MinTemplateLen:      *minTemplateLen,
			MaxTemplateLen:      *maxTemplateLen,
			MinBaseQual:         *minBaseQual,
		},
	}
	if err := scheduler.Run(ctx, layout, samples, opts); err != nil {
		log.Panicf("%v", err)
	}
	cmdutil.Debugf("exiting")
}

// clampHTSThreads bounds readers*htsThreads to worker, per this
// module's resolution of spec.md's open question on hts-threads/
// readers oversubscription: each reader's decompression helpers
// should not outnumber the worker pool meant to consume their output.
func clampHTSThreads(readers, htsThreads, workers int) int {
	if readers <= 0 || htsThreads <= 0 {
		return htsThreads
	}
	if readers*htsThreads > workers {
		clamped := workers / readers
		if clamped < 1 {
			clamped = 1
		}
		cmdutil.Infof("clamping hts-threads from %d to %d (readers=%d, threads=%d)", htsThreads, clamped, readers, workers)
		return clamped
	}
	return htsThreads
}
