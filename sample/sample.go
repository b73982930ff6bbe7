// Package sample is the Sample data model of spec.md §3: a sample's
// name, its input, and the per-contig coverage state and GC model
// that accumulate around it over a run. Both CLIs build their sample
// sets from a list file via textio.ReadRows, grounded on
// fusion/parsegencode/parsegencode.go's line-oriented input handling.
package sample

import (
	"context"
	"strings"

	"github.com/grailbio/cntools/cnerrors"
	"github.com/grailbio/cntools/coverage"
	"github.com/grailbio/cntools/gcmodel"
	"github.com/grailbio/cntools/textio"
)

// Group is a RegionTest sample's role: the null distribution is built
// from GroupControl samples and reported against for each GroupTest
// sample, per spec.md §4.5.
type Group int

const (
	GroupUnspecified Group = iota
	GroupTest
	GroupControl
)

func (g Group) String() string {
	switch g {
	case GroupTest:
		return "test"
	case GroupControl:
		return "control"
	default:
		return "unspecified"
	}
}

// Sample is one named input, plus the state that accumulates around
// it as a run proceeds: per-contig BinStats (owned exclusively by
// that contig's reader task until finalize), and the GCModel fitted
// once all training-contig bins are in, per spec.md §3's lifecycle.
type Sample struct {
	Name string
	Path string
	Group Group

	Bins  map[string][]coverage.BinStats
	Model *gcmodel.Model
}

// ReadPredictList parses PredictCN's sample list (spec.md §6): no
// header, >=2 columns, `sample_name<TAB>path[<TAB>...]`. Extra
// columns are accepted and ignored, reserving room for future
// per-sample options without breaking existing lists.
func ReadPredictList(ctx context.Context, path string) ([]Sample, error) {
	rows, err := textio.ReadRows(ctx, path)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, cnerrors.InputFormatf("sample list row has %d columns, want >=2", len(row))
		}
		name := strings.TrimSpace(row[0])
		inputPath := strings.TrimSpace(row[1])
		if name == "" || inputPath == "" {
			return nil, cnerrors.InputFormatf("sample list row has an empty name or path: %v", row)
		}
		if seen[name] {
			return nil, cnerrors.Configf("duplicate sample name %q in sample list", name)
		}
		seen[name] = true
		samples = append(samples, Sample{Name: name, Path: inputPath, Bins: make(map[string][]coverage.BinStats)})
	}
	if len(samples) == 0 {
		return nil, cnerrors.Configf("sample list %s has no samples", path)
	}
	return samples, nil
}

// ReadGroupList parses RegionTest's sample list (spec.md §6): exactly
// 2 columns, `sample_name<TAB>group`, where group prefix-matches
// (case-insensitive) "test" or "control".
func ReadGroupList(ctx context.Context, path string) ([]Sample, error) {
	rows, err := textio.ReadRows(ctx, path)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, cnerrors.InputFormatf("sample list row has %d columns, want 2", len(row))
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, cnerrors.InputFormatf("sample list row has an empty name: %v", row)
		}
		if seen[name] {
			return nil, cnerrors.Configf("duplicate sample name %q in sample list", name)
		}
		seen[name] = true
		group, err := parseGroup(row[1])
		if err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Name: name, Group: group})
	}
	if len(samples) == 0 {
		return nil, cnerrors.Configf("sample list %s has no samples", path)
	}
	return samples, nil
}

func parseGroup(s string) (Group, error) {
	tok := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(tok, "test"):
		return GroupTest, nil
	case strings.HasPrefix(tok, "control"):
		return GroupControl, nil
	default:
		return GroupUnspecified, cnerrors.InputFormatf("unrecognized sample group %q, want a test/control prefix", s)
	}
}
