package regiontest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/cntools/regiontest"
	"github.com/grailbio/cntools/sample"
)

func writeCNFile(t *testing.T, dir, sampleName, prefix, contig string, cn float64) {
	t.Helper()
	sampleDir := filepath.Join(dir, sampleName)
	if err := os.MkdirAll(sampleDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(sampleDir, fmt.Sprintf("%s_%s.txt", prefix, contig))
	line := fmt.Sprintf("%s\t500\t%.4f\t40.0000\n", contig, cn)
	if err := os.WriteFile(path, []byte(line), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeRegionList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.tsv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestEvaluateCtDNAFractionScenario implements spec.md's S4: 5 control
// samples with region CN near 2, one test sample with CN=1.0 against
// an expected_delta_cn of -1, expecting a near-1.0 ctDNA fraction and
// a very small p-value.
func TestEvaluateCtDNAFractionScenario(t *testing.T) {
	dir := t.TempDir()
	controlCNs := []float64{1.98, 2.01, 1.97, 2.03, 2.02}
	samples := make([]sample.Sample, 0, 6)
	for i, cn := range controlCNs {
		name := fmt.Sprintf("ctrl%d", i)
		writeCNFile(t, dir, name, "cov", "chr1", cn)
		samples = append(samples, sample.Sample{Name: name, Group: sample.GroupControl})
	}
	writeCNFile(t, dir, "test1", "cov", "chr1", 1.0)
	samples = append(samples, sample.Sample{Name: "test1", Group: sample.GroupTest})

	regionPath := writeRegionList(t, "amp\tchr1\t1-1000\t-1\n")
	regions, err := regiontest.ReadRegionList(context.Background(), regionPath)
	if err != nil {
		t.Fatalf("ReadRegionList: %v", err)
	}

	results, err := regiontest.Evaluate(context.Background(), samples, regions, dir, "cov")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Sample != "test1" || r.RegionLabel != "amp" {
		t.Fatalf("unexpected result identity: %+v", r)
	}
	if !r.HasCtDNA {
		t.Fatalf("expected ctDNA fraction to be computed")
	}
	if r.CtDNAFraction < 0.9 {
		t.Errorf("CtDNAFraction = %v, want close to 1.0", r.CtDNAFraction)
	}
	if r.PValue >= 1e-5 {
		t.Errorf("PValue = %v, want < 1e-5", r.PValue)
	}
	if r.NControls != 5 {
		t.Errorf("NControls = %d, want 5", r.NControls)
	}
}

// TestEvaluateBHFDRScenario implements spec.md's S5: 10 regions where
// only one is truly different between test and control. Benjamini-
// Hochberg should pull that region's q-value below 0.05 while every
// other region's q-value stays at or above its (here, uncorrected-
// to-1) p-value.
func TestEvaluateBHFDRScenario(t *testing.T) {
	dir := t.TempDir()
	controlCNs := []float64{1.99, 2.01, 1.98, 2.02, 2.00}
	const differentRegion = 5
	const numRegions = 10

	var samples []sample.Sample
	for i, cn := range controlCNs {
		name := fmt.Sprintf("ctrl%d", i)
		for r := 0; r < numRegions; r++ {
			writeCNFile(t, dir, name, "cov", fmt.Sprintf("chrR%d", r), cn)
		}
		samples = append(samples, sample.Sample{Name: name, Group: sample.GroupControl})
	}
	for r := 0; r < numRegions; r++ {
		testCN := 2.00
		if r == differentRegion {
			testCN = 5.00
		}
		writeCNFile(t, dir, "test1", "cov", fmt.Sprintf("chrR%d", r), testCN)
	}
	samples = append(samples, sample.Sample{Name: "test1", Group: sample.GroupTest})

	var regionListContent string
	for r := 0; r < numRegions; r++ {
		regionListContent += fmt.Sprintf("region%d\tchrR%d\t1-1000\n", r, r)
	}
	regionPath := writeRegionList(t, regionListContent)
	regions, err := regiontest.ReadRegionList(context.Background(), regionPath)
	if err != nil {
		t.Fatalf("ReadRegionList: %v", err)
	}

	results, err := regiontest.Evaluate(context.Background(), samples, regions, dir, "cov")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != numRegions {
		t.Fatalf("got %d results, want %d", len(results), numRegions)
	}

	for i, r := range results {
		if i == differentRegion {
			if r.QValue >= 0.05 {
				t.Errorf("region %d (truly different) QValue = %v, want < 0.05", i, r.QValue)
			}
			continue
		}
		if r.QValue < r.PValue-1e-9 {
			t.Errorf("region %d QValue = %v, want >= PValue %v", i, r.QValue, r.PValue)
		}
	}
}

func TestEvaluateNoDeltaLeavesCtDNAUnset(t *testing.T) {
	dir := t.TempDir()
	for i, cn := range []float64{1.9, 2.0, 2.1, 2.05, 1.95} {
		name := fmt.Sprintf("ctrl%d", i)
		writeCNFile(t, dir, name, "cov", "chr1", cn)
	}
	writeCNFile(t, dir, "test1", "cov", "chr1", 2.5)
	samples := []sample.Sample{
		{Name: "ctrl0", Group: sample.GroupControl}, {Name: "ctrl1", Group: sample.GroupControl},
		{Name: "ctrl2", Group: sample.GroupControl}, {Name: "ctrl3", Group: sample.GroupControl},
		{Name: "ctrl4", Group: sample.GroupControl}, {Name: "test1", Group: sample.GroupTest},
	}
	regionPath := writeRegionList(t, "nodelta\tchr1\t1-1000\n")
	regions, err := regiontest.ReadRegionList(context.Background(), regionPath)
	if err != nil {
		t.Fatalf("ReadRegionList: %v", err)
	}
	results, err := regiontest.Evaluate(context.Background(), samples, regions, dir, "cov")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if results[0].HasCtDNA {
		t.Errorf("expected no ctDNA estimate without a declared expected_delta_cn")
	}
}
