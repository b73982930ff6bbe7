// Package gcmodel implements the GC Model and Normalization step of
// spec.md §4.3: 128-stratum GC bucketing, per-stratum medians, LOESS
// smoothing with tricube weights, and the global autosomal rescale
// that anchors mean CN at 2. The moving-window weighted least-squares
// solve has no library home in the example pack (spec.md's own Design
// Notes call for "a straightforward implementation"); everything else
// here leans on gonum.org/v1/gonum/stat and floats, grounded on
// erunyan6-Lab_Buddy/tools/fastqc_mimic/go_num_funcs.go's gonum usage.
package gcmodel

import (
	"sort"

	"github.com/grailbio/cntools/cnerrors"
	"gonum.org/v1/gonum/floats"
)

// NumStrata is the number of equal-width GC buckets spanning [0,1],
// per spec.md §4.3.
const NumStrata = 128

// MinStratumCount is the minimum number of bins a stratum must
// contain for its median to be trusted.
const MinStratumCount = 10

// MinSurvivingStrata is the minimum number of supported strata
// required before falling back to a single global median, per
// spec.md §4.3.
const MinSurvivingStrata = 20

// LOESSSpan is the fraction of populated strata considered as
// neighbors at each query point.
const LOESSSpan = 0.3

// MinLOESSNeighbors is the minimum neighbor count regardless of span.
const MinLOESSNeighbors = 10

// Observation is one valid bin's coverage/GC pair feeding the model.
type Observation struct {
	MeanCoverage float64
	GCFraction   float64
	Length       int
	Autosomal    bool
}

// Model is a fitted GC-to-coverage curve plus the global rescale
// factor, per spec.md §3's GCModel.
type Model struct {
	g     [NumStrata]float64
	valid [NumStrata]bool
	scale float64
}

// Stratum returns the GC stratum index in [0, NumStrata) for
// fraction gc, clamping the top edge into the last stratum per
// spec.md §4.3 ("last stratum right-closed").
func Stratum(gc float64) int {
	idx := int(gc * NumStrata)
	if idx >= NumStrata {
		idx = NumStrata - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Fit builds a Model from obs, the sample's valid bins across all
// use_for_gc contigs. It returns a NumericError-kind error only when
// there is no autosomal coverage at all to anchor the rescale.
func Fit(obs []Observation) (*Model, error) {
	buckets := make([][]float64, NumStrata)
	for _, o := range obs {
		k := Stratum(o.GCFraction)
		buckets[k] = append(buckets[k], o.MeanCoverage)
	}

	var (
		centers  []float64
		medians  []float64
		strataOK [NumStrata]bool
	)
	for k := 0; k < NumStrata; k++ {
		if len(buckets[k]) < MinStratumCount {
			continue
		}
		strataOK[k] = true
		centers = append(centers, stratumCenter(k))
		medians = append(medians, median(buckets[k]))
	}

	m := &Model{}
	if len(centers) < MinSurvivingStrata {
		// Fallback: single global median applied to every stratum.
		var all []float64
		for _, o := range obs {
			all = append(all, o.MeanCoverage)
		}
		g := median(all)
		for k := 0; k < NumStrata; k++ {
			m.g[k] = g
			m.valid[k] = true
		}
	} else {
		smoothed := loess(centers, medians)
		for i, k := range supportedIndices(strataOK) {
			m.g[k] = smoothed[i]
			m.valid[k] = true
		}
		fillBoundaries(m, supportedIndices(strataOK))
	}

	return m, finishRescale(m, obs)
}

// Expected returns the model's smoothed expected coverage for GC
// fraction gc.
func (m *Model) Expected(gc float64) float64 {
	return m.g[Stratum(gc)]
}

// Scale returns the global rescale factor s from spec.md §4.3.
func (m *Model) Scale() float64 { return m.scale }

// CopyNumber returns CN_i = 2 * meanCoverage / (scale * g(gc)), per
// spec.md §4.3 step 5.
func (m *Model) CopyNumber(meanCoverage, gc float64) float64 {
	g := m.Expected(gc)
	if g == 0 || m.scale == 0 {
		return 0
	}
	return 2 * meanCoverage / (m.scale * g)
}

func finishRescale(m *Model, obs []Observation) error {
	var lengths, normalized []float64
	for _, o := range obs {
		if !o.Autosomal {
			continue
		}
		g := m.Expected(o.GCFraction)
		if g == 0 {
			continue
		}
		lengths = append(lengths, float64(o.Length))
		normalized = append(normalized, o.MeanCoverage/g)
	}
	totalLen := floats.Sum(lengths)
	if totalLen == 0 {
		return cnerrors.Numericf("no autosomal coverage available to anchor CN scale")
	}
	m.scale = floats.Dot(lengths, normalized) / totalLen
	return nil
}

func stratumCenter(k int) float64 {
	return (float64(k) + 0.5) / NumStrata
}

func supportedIndices(ok [NumStrata]bool) []int {
	var idxs []int
	for k, v := range ok {
		if v {
			idxs = append(idxs, k)
		}
	}
	return idxs
}

// fillBoundaries extends the nearest supported stratum's value to
// every unsupported stratum (constant extrapolation), per spec.md
// §4.3 step 3.
func fillBoundaries(m *Model, supported []int) {
	if len(supported) == 0 {
		return
	}
	for k := 0; k < NumStrata; k++ {
		if m.valid[k] {
			continue
		}
		nearest := supported[0]
		best := abs(k - nearest)
		for _, s := range supported {
			if d := abs(k - s); d < best {
				best = d
				nearest = s
			}
		}
		m.g[k] = m.g[nearest]
		m.valid[k] = true
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// loess fits a degree-1 locally weighted regression at every stratum
// center in xs (output in the same order as xs), using tricube weights over
// the nearest LOESSSpan fraction of xs (or MinLOESSNeighbors,
// whichever is larger). This is the O(128*k) weighted least-squares
// approach spec.md's Design Notes call for directly, since the pack
// carries no moving-window LOESS library.
func loess(xs, ys []float64) []float64 {
	n := len(xs)
	k := int(float64(n) * LOESSSpan)
	if k < MinLOESSNeighbors {
		k = MinLOESSNeighbors
	}
	if k > n {
		k = n
	}
	out := make([]float64, n)
	for i, x0 := range xs {
		idxs := nearestNeighbors(xs, x0, k)
		maxDist := 0.0
		for _, j := range idxs {
			if d := abs64(xs[j] - x0); d > maxDist {
				maxDist = d
			}
		}
		out[i] = weightedLinearFit(xs, ys, idxs, x0, maxDist)
	}
	return out
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// nearestNeighbors returns the indices of the k points in xs closest
// to x0, in no particular order.
func nearestNeighbors(xs []float64, x0 float64, k int) []int {
	type distIdx struct {
		d float64
		i int
	}
	all := make([]distIdx, len(xs))
	for i, x := range xs {
		all[i] = distIdx{abs64(x - x0), i}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].d < all[j].d })
	if k > len(all) {
		k = len(all)
	}
	idxs := make([]int, k)
	for i := 0; i < k; i++ {
		idxs[i] = all[i].i
	}
	return idxs
}

// tricube is the tricube kernel (1-|u|^3)^3 for |u|<=1, else 0.
func tricube(u float64) float64 {
	au := abs64(u)
	if au >= 1 {
		return 0
	}
	t := 1 - au*au*au
	return t * t * t
}

// weightedLinearFit solves the tricube-weighted least-squares line
// y = a + b*x over the given neighbor indices and evaluates it at x0.
func weightedLinearFit(xs, ys []float64, idxs []int, x0, bandwidth float64) float64 {
	if bandwidth == 0 {
		// All neighbors coincide with x0; fall back to their mean.
		var sum float64
		for _, j := range idxs {
			sum += ys[j]
		}
		return sum / float64(len(idxs))
	}
	var sw, swx, swy, swxx, swxy float64
	for _, j := range idxs {
		w := tricube((xs[j] - x0) / bandwidth)
		sw += w
		swx += w * xs[j]
		swy += w * ys[j]
		swxx += w * xs[j] * xs[j]
		swxy += w * xs[j] * ys[j]
	}
	denom := sw*swxx - swx*swx
	if denom == 0 {
		return swy / sw
	}
	b := (sw*swxy - swx*swy) / denom
	a := (swy - b*swx) / sw
	return a + b*x0
}
