// Package scheduler is the Pipeline/Scheduler of spec.md §4.4: bounded
// reader tasks turn (sample, contig) units into BinStats, and bounded
// worker tasks fit each sample's GC model, normalize, and write its
// output once all of its contigs have been aggregated. The
// channel-plus-WaitGroup worker pool and run-cancelling errors.Once
// aggregator are grounded directly on
// markduplicates/mark_duplicates.go's generatePAM/generateBAM, which
// distributes a closed work channel across a fixed goroutine pool and
// collects failures into a shared errors.Once. This package runs that
// pattern twice, chained: one bounded pool of R reader tasks feeding a
// second bounded pool of T worker tasks once a sample's contigs are
// all aggregated, the two-pool split spec.md §4.4 itself calls for.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cntools/align"
	"github.com/grailbio/cntools/cmdutil"
	"github.com/grailbio/cntools/cnerrors"
	"github.com/grailbio/cntools/coverage"
	"github.com/grailbio/cntools/gcmodel"
	"github.com/grailbio/cntools/refindex"
	"github.com/grailbio/cntools/sample"
)

// Options bounds and configures a PredictCN run.
type Options struct {
	Readers    int
	Workers    int
	HTSThreads int
	Prefix     string
	OutputDir  string
	Filters    align.Filters
}

// unit is one (sample, contig) work item, per spec.md §4.4.
type unit struct {
	sampleIdx int
	contig    string
}

// Run drives the full PredictCN pipeline over samples against layout:
// bounded reader tasks aggregate coverage per (sample, contig);
// a sample becomes eligible for its worker-side finalize (GC-model
// fit, normalization, atomic output write) once all of its contigs
// have been aggregated. A fatal error from any task cancels the run:
// outstanding units stop being admitted and Run returns the first
// error observed.
func Run(ctx context.Context, layout *refindex.Layout, samples []sample.Sample, opts Options) error {
	if opts.Readers <= 0 || opts.Workers <= 0 {
		return cnerrors.Configf("reader and worker slot counts must be positive, got readers=%d workers=%d", opts.Readers, opts.Workers)
	}
	contigs := layout.Contigs()
	if len(contigs) == 0 {
		return cnerrors.Configf("reference has no contigs")
	}

	units := interleave(len(samples), contigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e := errors.Once{}
	unitCh := make(chan unit, len(units))
	for _, u := range units {
		unitCh <- u
	}
	close(unitCh)

	finalizeCh := make(chan int, len(samples))
	var mu sync.Mutex
	counts := make([]int, len(samples))
	for i := range counts {
		counts[i] = len(contigs)
	}

	var readerWG sync.WaitGroup
	for i := 0; i < opts.Readers; i++ {
		readerWG.Add(1)
		go func() {
			defer readerWG.Done()
			for u := range unitCh {
				select {
				case <-runCtx.Done():
					continue
				default:
				}
				if err := readUnit(runCtx, layout, &samples[u.sampleIdx], u.contig, opts); err != nil {
					e.Set(err)
					cancel()
					continue
				}
				mu.Lock()
				counts[u.sampleIdx]--
				ready := counts[u.sampleIdx] == 0
				mu.Unlock()
				if ready {
					finalizeCh <- u.sampleIdx
				}
			}
		}()
	}

	go func() {
		readerWG.Wait()
		close(finalizeCh)
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for sampleIdx := range finalizeCh {
				select {
				case <-runCtx.Done():
					continue
				default:
				}
				if err := finalizeSample(runCtx, &samples[sampleIdx], layout, opts); err != nil {
					e.Set(err)
					cancel()
				}
			}
		}()
	}
	workerWG.Wait()

	return e.Err()
}

// interleave orders work units contig-major so that reader tasks
// rotate across samples instead of draining one sample's contigs
// before starting the next, per spec.md §4.4's "interleave contigs
// across samples" distribution policy.
func interleave(nSamples int, contigs []refindex.Contig) []unit {
	units := make([]unit, 0, nSamples*len(contigs))
	for _, c := range contigs {
		for si := 0; si < nSamples; si++ {
			units = append(units, unit{sampleIdx: si, contig: c.Name})
		}
	}
	return units
}

// readUnit is one reader task: open the sample's alignment file,
// iterate contig, feed a coverage.Aggregator, and store the finalized
// BinStats on the owning Sample. Per spec.md §4.4's correctness
// guarantee, BinStats for (sample, contig) are written by exactly this
// one task.
func readUnit(ctx context.Context, layout *refindex.Layout, s *sample.Sample, contig string, opts Options) error {
	r, err := align.Open(ctx, s.Path, opts.HTSThreads)
	if err != nil {
		return cnerrors.E(cnerrors.Config, err, "opening alignment file", s.Path)
	}
	defer r.Close()

	agg, err := coverage.New(layout, contig, opts.Filters)
	if err != nil {
		return err
	}
	it, err := r.NewIterator(contig)
	if err != nil {
		return cnerrors.E(cnerrors.Data, err, "seeking to contig", contig)
	}
	for it.Scan() {
		agg.Process(it.Record())
	}
	if err := it.Err(); err != nil {
		return cnerrors.E(cnerrors.IO, err, "reading", s.Path, "contig", contig)
	}
	cmdutil.Debugf("sample %s: finished contig %s", s.Name, contig)
	s.Bins[contig] = agg.Finalize()
	return nil
}

// finalizeSample is one worker task: fit the GC model across all of
// S's use_for_gc contigs, normalize every valid bin to a CN estimate,
// and write the per-contig output files atomically.
func finalizeSample(ctx context.Context, s *sample.Sample, layout *refindex.Layout, opts Options) error {
	byName := make(map[string]refindex.Contig, len(layout.Contigs()))
	for _, c := range layout.Contigs() {
		byName[c.Name] = c
	}

	var obs []gcmodel.Observation
	for contig, bins := range s.Bins {
		c := byName[contig]
		if !c.UseForGC {
			continue
		}
		for _, b := range bins {
			if !b.Valid || !b.GCValid {
				continue
			}
			obs = append(obs, gcmodel.Observation{
				MeanCoverage: b.MeanCoverage,
				GCFraction:   b.GCFraction,
				Length:       b.Bin.Len(),
				Autosomal:    true,
			})
		}
	}
	model, err := gcmodel.Fit(obs)
	if err != nil {
		return cnerrors.E(cnerrors.Numeric, err, "fitting GC model for sample", s.Name)
	}
	s.Model = model

	sampleDir := filepath.Join(opts.OutputDir, s.Name)
	if err := os.MkdirAll(sampleDir, 0755); err != nil {
		return cnerrors.E(cnerrors.IO, err, "creating sample output directory", sampleDir)
	}
	for _, c := range layout.Contigs() {
		if err := writeContig(ctx, sampleDir, opts.Prefix, c.Name, s.Bins[c.Name], model); err != nil {
			return err
		}
	}
	cmdutil.Infof("sample %s: done", s.Name)
	return nil
}

// writeContig writes one contig's output file (spec.md §6): four TSV
// columns, only valid bins, ascending bin start. The file is written
// to a temporary path and renamed into place so a reader never
// observes a partially-written file, per spec.md §5's atomicity
// requirement; no pack library provides this rename step, so it is
// layered directly on os.Rename underneath file.Create.
func writeContig(ctx context.Context, sampleDir, prefix, contig string, bins []coverage.BinStats, model *gcmodel.Model) error {
	finalPath := filepath.Join(sampleDir, fmt.Sprintf("%s_%s.txt", prefix, contig))
	tmpPath := finalPath + ".tmp"

	out, err := file.Create(ctx, tmpPath)
	if err != nil {
		return cnerrors.E(cnerrors.IO, err, "creating", tmpPath)
	}
	w := tsv.NewWriter(out.Writer(ctx))
	for _, b := range bins {
		if !b.Valid {
			continue
		}
		cn := model.CopyNumber(b.MeanCoverage, b.GCFraction)
		w.WriteString(contig)
		w.WriteInt64(int64(b.Bin.Mid()))
		w.WriteString(fmt.Sprintf("%.4f", cn))
		w.WriteString(fmt.Sprintf("%.4f", b.MeanCoverage))
		if err := w.EndLine(); err != nil {
			out.Close(ctx)
			return cnerrors.E(cnerrors.IO, err, "writing", tmpPath)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close(ctx)
		return cnerrors.E(cnerrors.IO, err, "flushing", tmpPath)
	}
	if err := out.Close(ctx); err != nil {
		return cnerrors.E(cnerrors.IO, err, "closing", tmpPath)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return cnerrors.E(cnerrors.IO, err, "renaming", tmpPath, "to", finalPath)
	}
	return nil
}
