// Package report writes the mutation testing artifacts:
//
//   - mutation_results.json       every mutant, for tooling and `mutiny report`
//   - consolidated_mutations.diff all unified diffs with status banners
//   - mutation_report.md          operator and routine tables, survivors
//   - tested_routines_source.py   verbatim source of the routines under test
//   - ANALYSIS_SUMMARY.md         score, weakest routines, next steps
//
// Every writer is a pure function of its inputs. Nothing run-specific (time,
// run id, host path) is written, so the same mutants always produce the
// same bytes.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mutiny/internal/logging"
	"mutiny/internal/mutation"
	"mutiny/internal/source"
)

// Artifact file names.
const (
	ResultsFile  = "mutation_results.json"
	DiffFile     = "consolidated_mutations.diff"
	MarkdownFile = "mutation_report.md"
	RoutinesFile = "tested_routines_source.py"
	AnalysisFile = "ANALYSIS_SUMMARY.md"
)

// ErrNoResults is returned by Load when the directory has no results file.
var ErrNoResults = errors.New("no mutation results found")

// Options shape the human-readable artifacts.
type Options struct {
	// Title heads mutation_report.md.
	Title string

	// Target is the workspace-relative path of the mutated file.
	Target string

	// Tested selects the result sections. Without it only generated
	// mutants are described.
	Tested bool

	// SurvivorPreview limits the survivor section of mutation_report.md.
	SurvivorPreview int

	// TestOutputLimit is the number of characters of test output quoted
	// per mutant.
	TestOutputLimit int
}

// DefaultOptions mirror the output defaults of the configuration.
func DefaultOptions() Options {
	return Options{
		Title:           "Mutation Testing Report",
		SurvivorPreview: 10,
		TestOutputLimit: 1000,
	}
}

// Paths lists the files written by WriteAll.
type Paths struct {
	Results  string
	Diff     string
	Markdown string
	Routines string
	Analysis string
}

// All returns the paths in a fixed order.
func (p Paths) All() []string {
	return []string{p.Diff, p.Markdown, p.Results, p.Routines, p.Analysis}
}

// Input is everything the writers need.
type Input struct {
	Mutants  []*mutation.Mutant
	Routines []source.RoutineSource
	Options  Options
}

// WriteAll renders every artifact into dir.
func WriteAll(dir string, in Input) (Paths, error) {
	timer := logging.StartTimer(logging.CategoryReport, "write reports")
	defer timer.Stop()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := Paths{
		Results:  filepath.Join(dir, ResultsFile),
		Diff:     filepath.Join(dir, DiffFile),
		Markdown: filepath.Join(dir, MarkdownFile),
		Routines: filepath.Join(dir, RoutinesFile),
		Analysis: filepath.Join(dir, AnalysisFile),
	}

	results, err := RenderJSON(in.Mutants)
	if err != nil {
		return Paths{}, err
	}
	files := []struct {
		path string
		data []byte
	}{
		{paths.Results, results},
		{paths.Diff, []byte(RenderDiff(in.Mutants, in.Options))},
		{paths.Markdown, []byte(RenderMarkdown(in.Mutants, in.Options))},
		{paths.Routines, []byte(RenderRoutines(in.Routines, in.Options.Target))},
		{paths.Analysis, []byte(RenderAnalysis(in.Mutants, in.Options))},
	}
	for _, f := range files {
		if err := writeFileAtomic(f.path, f.data); err != nil {
			return Paths{}, err
		}
	}

	logging.Report("Wrote %d mutants to %s", len(in.Mutants), dir)
	return paths, nil
}

// WriteCheckpoint rewrites the full report set. It is WriteAll under the
// name used for mid-run saves.
func WriteCheckpoint(dir string, in Input) error {
	_, err := WriteAll(dir, in)
	return err
}

// writeFileAtomic replaces path so readers never see a half-written report.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		logging.ReportDebug("chmod %s: %v", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RenderJSON encodes mutants as a two-space indented array without HTML
// escaping. A nil killed_by is written as [].
func RenderJSON(mutants []*mutation.Mutant) ([]byte, error) {
	out := make([]*mutation.Mutant, len(mutants))
	for i, m := range mutants {
		c := *m
		if c.KilledBy == nil {
			c.KilledBy = []string{}
		}
		out[i] = &c
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to encode results: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Load reads mutation_results.json from dir.
func Load(dir string) ([]*mutation.Mutant, error) {
	path := filepath.Join(dir, ResultsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoResults, dir)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var mutants []*mutation.Mutant
	if err := json.Unmarshal(data, &mutants); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, m := range mutants {
		if m.KilledBy == nil {
			m.KilledBy = []string{}
		}
	}
	return mutants, nil
}

// AnyTested reports whether at least one mutant has an outcome.
func AnyTested(mutants []*mutation.Mutant) bool {
	for _, m := range mutants {
		if m.Tested() {
			return true
		}
	}
	return false
}
