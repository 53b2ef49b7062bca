package mutation

import (
	"fmt"
	"strings"

	"mutiny/internal/diff"
	"mutiny/internal/logging"
	"mutiny/internal/source"
)

// LowMutantWarning is the mutant count below which generation logs a warning.
const LowMutantWarning = 100

// Options controls mutant generation.
type Options struct {
	// Operator codes to apply, in any order. Empty applies all operators.
	Operators []string

	// Drop a rewrite when an earlier mutant already produced the same line
	// at the same line number.
	Dedupe bool

	// DiffPath is the path written into unified diff headers. It should be
	// workspace-relative so diffs do not depend on the checkout location.
	DiffPath string
}

// Generator produces mutants for a parsed file.
type Generator struct {
	opts   Options
	ops    []Operator
	engine *diff.Engine
}

// NewGenerator validates the operator selection.
func NewGenerator(opts Options) (*Generator, error) {
	g := &Generator{opts: opts, engine: diff.NewEngine()}

	enabled := make(map[string]bool, len(opts.Operators))
	for _, code := range opts.Operators {
		code = strings.ToUpper(strings.TrimSpace(code))
		if _, ok := LookupOperator(code); !ok {
			return nil, fmt.Errorf("unknown mutation operator: %s", code)
		}
		enabled[code] = true
	}
	// Generation order is fixed by Operators, not by the caller's list.
	for _, op := range Operators {
		if len(enabled) == 0 || enabled[op.Code] {
			g.ops = append(g.ops, op)
		}
	}
	if g.opts.DiffPath == "" {
		g.opts.DiffPath = "target.py"
	}
	return g, nil
}

// Generate returns every mutant of f. The result depends only on the file
// content and the options.
func (g *Generator) Generate(f *source.File) []*Mutant {
	timer := logging.StartTimer(logging.CategoryMutation, "generate mutants")
	defer timer.Stop()

	var mutants []*Mutant
	seen := make(map[string]bool)
	content := string(f.Content)

	for _, op := range g.ops {
		count := 0
		for i, line := range f.Lines {
			lineNo := i + 1
			if !f.IsCode(lineNo) {
				continue
			}
			for _, rw := range op.Rewrites(line) {
				if rw.Line == line {
					continue
				}
				key := fmt.Sprintf("%d\x00%s", lineNo, rw.Line)
				if g.opts.Dedupe && seen[key] {
					logging.MutationDebug("Dropping duplicate %s rewrite at line %d", op.Code, lineNo)
					continue
				}
				seen[key] = true

				m := &Mutant{
					ID:           len(mutants) + 1,
					Operator:     op.Code,
					Description:  fmt.Sprintf("%s at line %d", rw.Description, lineNo),
					OriginalCode: strings.TrimSpace(line),
					MutatedCode:  strings.TrimSpace(rw.Line),
					LineNumber:   lineNo,
					Status:       StatusNotTested,
					RoutineName:  f.RoutineName(lineNo),
					KilledBy:     []string{},
					MutatedLine:  rw.Line,
				}
				mutated, err := applyLine(content, lineNo, rw.Line)
				if err != nil {
					logging.MutationWarn("Skipping %s at line %d: %v", op.Code, lineNo, err)
					continue
				}
				m.UnifiedDiff = g.engine.ComputeDiff(g.opts.DiffPath, g.opts.DiffPath, content, mutated).Unified()
				mutants = append(mutants, m)
				count++
			}
		}
		logging.MutationDebug("%s produced %d mutants", op.Code, count)
	}

	logging.Mutation("Generated %d mutants from %d code lines", len(mutants), len(f.CodeLines()))
	if len(mutants) < LowMutantWarning {
		logging.MutationWarn("Only %d mutants generated (target: %d+)", len(mutants), LowMutantWarning)
	}
	return mutants
}

// Generate is a convenience wrapper around NewGenerator(opts).Generate(f).
func Generate(f *source.File, opts Options) ([]*Mutant, error) {
	g, err := NewGenerator(opts)
	if err != nil {
		return nil, err
	}
	return g.Generate(f), nil
}
