/*
regiontest reports, per (sample, region), a copy-number estimate, a
one-sample t-test against a control group with Benjamini-Hochberg
false-discovery-rate correction, and (when a region declares an
expected CN change) a circulating-tumor-DNA fraction estimate with a
95% confidence interval.

Usage: regiontest [OPTIONS] sample-list
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cntools/cmdutil"
	"github.com/grailbio/cntools/regiontest"
	"github.com/grailbio/cntools/sample"
)

var (
	inputPrefix = flag.String("input-prefix", "cov", "PredictCN output file name prefix")
	inputDir    = flag.String("input-dir", ".", "PredictCN output root directory")
	output      = flag.String("output", "-", "output path, or - for stdout")
	regionList  = flag.String("region-list", "", "region list path (required)")
	loglevel    = flag.String("loglevel", "info", "debug, info, warn, or error")
	showVersion = flag.Bool("version", false, "print the version and exit")
)

// version identifies this build of regiontest; the pack carries no
// build-info injection mechanism, so it's a plain constant.
const version = "regiontest (github.com/grailbio/cntools) 0.1.0"

func init() {
	flag.StringVar(inputPrefix, "P", "cov", "shorthand for -input-prefix")
	flag.StringVar(inputDir, "D", ".", "shorthand for -input-dir")
	flag.StringVar(output, "o", "-", "shorthand for -output")
	flag.StringVar(regionList, "r", "", "shorthand for -region-list")
	flag.StringVar(loglevel, "l", "info", "shorthand for -loglevel")
	flag.BoolVar(showVersion, "V", false, "shorthand for -version")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] sample-list\n", os.Args[0])
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

	if *regionList == "" {
		log.Fatalf("-region-list/-r is required")
	}
	args := flag.Args()
	if len(args) != 1 {
		log.Fatalf("expected 1 positional argument (sample-list), got %d: %s", len(args), strings.Join(args, " "))
	}
	sampleListPath := args[0]

	ctx := vcontext.Background()

	samples, err := sample.ReadGroupList(ctx, sampleListPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	regions, err := regiontest.ReadRegionList(ctx, *regionList)
	if err != nil {
		log.Fatalf("%v", err)
	}

	results, err := regiontest.Evaluate(ctx, samples, regions, *inputDir, *inputPrefix)
	if err != nil {
		log.Panicf("%v", err)
	}

	var w *bufio.Writer
	if *output == "-" {
		w = bufio.NewWriter(os.Stdout)
	} else {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("creating %s: %v", *output, err)
		}
		defer f.Close()
		w = bufio.NewWriter(f)
	}
	if err := writeResults(w, results); err != nil {
		log.Fatalf("writing results: %v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("flushing output: %v", err)
	}
	cmdutil.Debugf("exiting")
}

// writeResults writes the 10-column TSV results format of spec.md §6,
// in (sample, region) input order for stable FDR-ranking display.
func writeResults(w *bufio.Writer, results []regiontest.Result) error {
	for _, r := range results {
		ctdna, ciLow, ciHigh := "", "", ""
		if r.HasCtDNA {
			ctdna = strconv.FormatFloat(r.CtDNAFraction, 'f', 4, 64)
			ciLow = strconv.FormatFloat(r.CtDNACILow, 'f', 4, 64)
			ciHigh = strconv.FormatFloat(r.CtDNACIHigh, 'f', 4, 64)
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Sample, r.RegionLabel, r.NControls,
			strconv.FormatFloat(r.SDControls, 'f', 4, 64),
			strconv.FormatFloat(r.CNEstimate, 'f', 4, 64),
			ctdna, ciLow, ciHigh,
			strconv.FormatFloat(r.PValue, 'g', 4, 64),
			strconv.FormatFloat(r.QValue, 'g', 4, 64),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
