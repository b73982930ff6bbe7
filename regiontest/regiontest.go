// Package regiontest is the RegionTest Statistics component of
// spec.md §4.5: region/sample CN aggregation, a one-sample t-test
// against a control group, Benjamini-Hochberg FDR correction, and
// ctDNA-fraction inversion with a 95% confidence interval. The
// t-distribution and Benjamini-Hochberg routines are grounded on
// erunyan6-Lab_Buddy/tools/fastqc_mimic/go_num_funcs.go's
// gonum.org/v1/gonum/stat/distuv usage (no gonum FDR routine exists in
// the pack, so BH itself is hand-rolled per its own well-known
// step-up definition).
package regiontest

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/cntools/cnerrors"
	"github.com/grailbio/cntools/sample"
	"github.com/grailbio/cntools/textio"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// halfOpenRange is a 0-based, half-open sub-range of a contig,
// converted from the region list's 1-based inclusive notation.
type halfOpenRange struct {
	start, end int
}

func (r halfOpenRange) contains(pos int) bool { return pos >= r.start && pos < r.end }

// Region is one row of the region list (spec.md §6).
type Region struct {
	Label      string
	Contig     string
	Ranges     []halfOpenRange
	DeltaCN    float64
	HasDeltaCN bool
}

func (r Region) contains(pos int) bool {
	for _, rng := range r.Ranges {
		if rng.contains(pos) {
			return true
		}
	}
	return false
}

// ReadRegionList parses the region list (spec.md §6): no header, 3-4
// columns, `label<TAB>contig<TAB>ranges[<TAB>expected_delta_cn]`,
// where ranges is a comma-separated list of `start-end` (1-based
// inclusive, converted to half-open here).
func ReadRegionList(ctx context.Context, path string) ([]Region, error) {
	rows, err := textio.ReadRows(ctx, path)
	if err != nil {
		return nil, err
	}
	regions := make([]Region, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 || len(row) > 4 {
			return nil, cnerrors.InputFormatf("region list row has %d columns, want 3-4", len(row))
		}
		ranges, err := parseRanges(row[2])
		if err != nil {
			return nil, cnerrors.InputFormatf("region %s: %v", row[0], err)
		}
		region := Region{Label: row[0], Contig: row[1], Ranges: ranges}
		if len(row) == 4 && strings.TrimSpace(row[3]) != "" {
			delta, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
			if err != nil {
				return nil, cnerrors.InputFormatf("region %s: invalid expected_delta_cn %q", row[0], row[3])
			}
			region.DeltaCN = delta
			region.HasDeltaCN = delta != 0
		}
		regions = append(regions, region)
	}
	return regions, nil
}

func parseRanges(field string) ([]halfOpenRange, error) {
	parts := strings.Split(field, ",")
	ranges := make([]halfOpenRange, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		bounds := strings.SplitN(p, "-", 2)
		if len(bounds) != 2 {
			return nil, cnerrors.InputFormatf("malformed range %q, want start-end", p)
		}
		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, cnerrors.InputFormatf("malformed range start %q", bounds[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, cnerrors.InputFormatf("malformed range end %q", bounds[1])
		}
		if end < start {
			return nil, cnerrors.InputFormatf("range %q has end before start", p)
		}
		ranges = append(ranges, halfOpenRange{start: start - 1, end: end})
	}
	return ranges, nil
}

// binCN is one line of a PredictCN contig output file.
type binCN struct {
	mid int
	cn  float64
}

// loadContigBins reads <dir>/<sampleName>/<prefix>_<contig>.txt, the
// format PredictCN writes (spec.md §6). Missing files (a sample with
// no coverage on this contig) yield an empty, non-error result, since
// a region restricted to a contig a given sample never touched is a
// configuration choice, not a data error.
func loadContigBins(ctx context.Context, dir, prefix, sampleName, contig string) ([]binCN, error) {
	path := filepath.Join(dir, sampleName, prefix+"_"+contig+".txt")
	rows, err := textio.ReadRows(ctx, path)
	if err != nil {
		if cnerrors.Is(err, cnerrors.Config) {
			return nil, nil
		}
		return nil, err
	}
	bins := make([]binCN, 0, len(rows))
	for _, row := range rows {
		if len(row) != 4 {
			return nil, cnerrors.InputFormatf("%s: row has %d columns, want 4", path, len(row))
		}
		mid, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, cnerrors.InputFormatf("%s: invalid bin_mid %q", path, row[1])
		}
		cn, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, cnerrors.InputFormatf("%s: invalid cn_estimate %q", path, row[2])
		}
		bins = append(bins, binCN{mid: mid, cn: cn})
	}
	return bins, nil
}

// regionMeanCN computes the length-weighted mean CN of bins.mid
// falling inside region. Bin length is approximated by the spacing to
// the next bin's midpoint (the output contract carries bin_mid, not bin
// length); the last bin reuses the spacing from its predecessor. Two
// adjacent full-width bins are exactly one bin width apart, but the
// spacing before a shorter terminal bin, or across invalid bins that
// PredictCN left out, differs from the true width. This avoids
// RegionTest needing the reference or --block-size at all.
func regionMeanCN(bins []binCN, region Region) (mean float64, ok bool) {
	sort.Slice(bins, func(i, j int) bool { return bins[i].mid < bins[j].mid })
	var weight, weightedSum float64
	for i, b := range bins {
		if !region.contains(b.mid) {
			continue
		}
		length := 1
		switch {
		case i+1 < len(bins):
			length = bins[i+1].mid - b.mid
		case i > 0:
			length = b.mid - bins[i-1].mid
		}
		if length <= 0 {
			length = 1
		}
		weight += float64(length)
		weightedSum += float64(length) * b.cn
	}
	if weight == 0 {
		return 0, false
	}
	return weightedSum / weight, true
}

// Result is one RegionTest output row, per spec.md §3/§6.
type Result struct {
	Sample        string
	RegionLabel   string
	NControls     int
	SDControls    float64
	CNEstimate    float64
	HasCtDNA      bool
	CtDNAFraction float64
	CtDNACILow    float64
	CtDNACIHigh   float64
	PValue        float64
	QValue        float64
}

// Evaluate runs the full RegionTest statistical pipeline (spec.md
// §4.5) over samples and regions, reading each sample's CN files from
// <dir>/<sampleName>/<prefix>_<contig>.txt. Results are ordered by test
// sample, then region, each in input order.
func Evaluate(ctx context.Context, samples []sample.Sample, regions []Region, dir, prefix string) ([]Result, error) {
	var controls, tests []sample.Sample
	for _, s := range samples {
		switch s.Group {
		case sample.GroupControl:
			controls = append(controls, s)
		case sample.GroupTest:
			tests = append(tests, s)
		default:
			return nil, cnerrors.Configf("sample %s has no test/control group assigned", s.Name)
		}
	}

	var pvalues []float64
	var builders []resultBuilder

	for _, region := range regions {
		var controlCNs []float64
		for _, c := range controls {
			bins, err := loadContigBins(ctx, dir, prefix, c.Name, region.Contig)
			if err != nil {
				return nil, err
			}
			if cn, ok := regionMeanCN(bins, region); ok {
				controlCNs = append(controlCNs, cn)
			}
		}
		if len(controlCNs) < 2 {
			return nil, cnerrors.Numericf("region %s: fewer than 2 control observations", region.Label)
		}
		mu := stat.Mean(controlCNs, nil)
		sigma := stat.StdDev(controlCNs, nil)
		n := float64(len(controlCNs))

		for _, ts := range tests {
			bins, err := loadContigBins(ctx, dir, prefix, ts.Name, region.Contig)
			if err != nil {
				return nil, err
			}
			cn, ok := regionMeanCN(bins, region)
			if !ok {
				continue
			}
			rb := resultBuilder{
				sample:     ts.Name,
				label:      region.Label,
				nControls:  len(controlCNs),
				sdControls: sigma,
				cn:         cn,
			}
			se := sigma * math.Sqrt(1+1/n)
			df := n - 1
			if se > 0 {
				tstat := (cn - mu) / se
				rb.pValue = 2 * (1 - distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.CDF(math.Abs(tstat)))
			} else {
				rb.pValue = 1
			}
			if region.HasDeltaCN {
				f := (cn - mu) / region.DeltaCN
				tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(0.975)
				halfWidth := tCrit * se / math.Abs(region.DeltaCN)
				lo, hi := f-halfWidth, f+halfWidth
				if region.DeltaCN < 0 {
					lo, hi = hi, lo
				}
				rb.hasCtDNA = true
				rb.ctDNA = clip01(f)
				rb.ctDNALow = clip01(lo)
				rb.ctDNAHigh = clip01(hi)
			}
			pvalues = append(pvalues, rb.pValue)
			builders = append(builders, rb)
		}
	}

	// q-values are computed over the region-major build order; the
	// correction itself does not depend on that order.
	qvalues := benjaminiHochberg(pvalues)
	results := make([]Result, len(builders))
	for i, rb := range builders {
		results[i] = Result{
			Sample:        rb.sample,
			RegionLabel:   rb.label,
			NControls:     rb.nControls,
			SDControls:    rb.sdControls,
			CNEstimate:    rb.cn,
			HasCtDNA:      rb.hasCtDNA,
			CtDNAFraction: rb.ctDNA,
			CtDNACILow:    rb.ctDNALow,
			CtDNACIHigh:   rb.ctDNAHigh,
			PValue:        rb.pValue,
			QValue:        qvalues[i],
		}
	}
	testOrder := make(map[string]int, len(tests))
	for i, ts := range tests {
		testOrder[ts.Name] = i
	}
	sort.SliceStable(results, func(a, b int) bool {
		return testOrder[results[a].Sample] < testOrder[results[b].Sample]
	})
	return results, nil
}

type resultBuilder struct {
	sample     string
	label      string
	nControls  int
	sdControls float64
	cn         float64
	pValue     float64
	hasCtDNA   bool
	ctDNA      float64
	ctDNALow   float64
	ctDNAHigh  float64
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// benjaminiHochberg returns BH-adjusted q-values for pvalues, in the
// same order, using the standard step-up procedure.
func benjaminiHochberg(pvalues []float64) []float64 {
	n := len(pvalues)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return pvalues[idx[a]] < pvalues[idx[b]] })
	q := make([]float64, n)
	prevMin := 1.0
	for rank := n; rank >= 1; rank-- {
		i := idx[rank-1]
		val := pvalues[i] * float64(n) / float64(rank)
		if val > prevMin {
			val = prevMin
		}
		if val > 1 {
			val = 1
		}
		prevMin = val
		q[i] = val
	}
	return q
}
