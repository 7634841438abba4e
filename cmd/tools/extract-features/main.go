// Package main walks a folder of capture CSVs and writes one feature row per
// capture to features.csv, using the same extractor as the live pipeline so
// models trained on the output see identical features at inference time.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/banshee-data/gesture.control/internal/capture"
	"github.com/banshee-data/gesture.control/internal/features"
)

// Config holds the tool's settings.
type Config struct {
	InputDir   string
	OutputFile string
	FeatureSet features.Set
	Cutoff     float64
	Clean      bool
	Threshold  float64
}

// Summary reports what Extract did.
type Summary struct {
	Written   int
	Skipped   int
	Discarded int
	Cleaned   int
	PerLabel  map[string]int
}

func main() {
	input := flag.String("input", "data", "Folder containing data_<label>_<ts>.csv captures")
	output := flag.String("output", "features.csv", "Output CSV path")
	set := flag.String("features", "full", "Feature set to extract: full or basic")
	cutoff := flag.Float64("cutoff", capture.DefaultCutoff, "Discard captures with any sample above this value")
	clean := flag.Bool("clean", false, "Replace outlier samples with the mean of their neighbours before extraction")
	threshold := flag.Float64("outlier-threshold", capture.DefaultOutlierThreshold, "Outlier level used by --clean")
	flag.Parse()

	fs, err := features.ParseSet(*set)
	if err != nil {
		log.Fatalf("--features: %v", err)
	}
	cfg := Config{
		InputDir:   *input,
		OutputFile: *output,
		FeatureSet: fs,
		Cutoff:     *cutoff,
		Clean:      *clean,
		Threshold:  *threshold,
	}

	out, err := os.Create(cfg.OutputFile)
	if err != nil {
		log.Fatalf("failed to create %s: %v", cfg.OutputFile, err)
	}
	summary, err := Extract(cfg, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	log.Printf("wrote %d rows to %s (%d skipped, %d discarded over cutoff, %d samples cleaned)",
		summary.Written, cfg.OutputFile, summary.Skipped, summary.Discarded, summary.Cleaned)
	labels := make([]string, 0, len(summary.PerLabel))
	for l := range summary.PerLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		log.Printf("  %-12s %d", l, summary.PerLabel[l])
	}
}

// Extract reads every capture in cfg.InputDir and writes the header
// "label,<feature names...>" followed by one row per usable capture.
func Extract(cfg Config, w io.Writer) (Summary, error) {
	s := Summary{PerLabel: make(map[string]int)}

	paths, err := filepath.Glob(filepath.Join(cfg.InputDir, "*.csv"))
	if err != nil {
		return s, err
	}
	sort.Strings(paths)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"label"}, cfg.FeatureSet.Names()...)); err != nil {
		return s, err
	}

	for _, path := range paths {
		c, err := capture.ReadFile(path)
		if err != nil {
			log.Printf("skipping %s: %v", filepath.Base(path), err)
			s.Skipped++
			continue
		}
		if c.Len() == 0 {
			log.Printf("skipping %s: no samples", filepath.Base(path))
			s.Skipped++
			continue
		}
		if c.ExceedsCutoff(cfg.Cutoff) {
			log.Printf("discarding %s: peak %.1f above cutoff %.1f", filepath.Base(path), c.Max(), cfg.Cutoff)
			s.Discarded++
			continue
		}
		if cfg.Clean {
			s.Cleaned += c.Clean(cfg.Threshold)
		}

		vec := cfg.FeatureSet.Extract(c.Values, c.Timestamps)
		row := make([]string, 0, len(vec)+1)
		row = append(row, c.Label)
		for _, v := range vec {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return s, fmt.Errorf("write row for %s: %w", path, err)
		}
		s.Written++
		s.PerLabel[c.Label]++
	}
	cw.Flush()
	return s, cw.Error()
}
