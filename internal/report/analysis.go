package report

import (
	"fmt"
	"sort"
	"strings"

	"mutiny/internal/diff"
	"mutiny/internal/mutation"
)

// weakestLimit caps the weakest-routine table.
const weakestLimit = 10

// RenderAnalysis renders ANALYSIS_SUMMARY.md.
func RenderAnalysis(mutants []*mutation.Mutant, opts Options) string {
	var sb strings.Builder
	c := mutation.Count(mutants)

	sb.WriteString("# Mutation Analysis Summary\n\n")
	if opts.Target != "" {
		fmt.Fprintf(&sb, "**Target:** `%s`  \n", opts.Target)
	}
	if opts.Tested {
		fmt.Fprintf(&sb, "**Mutation Score:** %d%% (%d of %d classified mutants killed)\n\n",
			c.Score(), c.Killed, c.Killed+c.Survived)
	} else {
		fmt.Fprintf(&sb, "**Mutation Score:** not measured (%d mutants generated, none tested)\n\n", c.Total)
	}

	sb.WriteString("## Outcome Counts\n\n")
	sb.WriteString("| Status | Count |\n")
	sb.WriteString("|--------|-------|\n")
	for _, row := range []struct {
		status mutation.Status
		n      int
	}{
		{mutation.StatusKilled, c.Killed},
		{mutation.StatusSurvived, c.Survived},
		{mutation.StatusTimeout, c.Timeouts},
		{mutation.StatusError, c.Errors},
		{mutation.StatusNotTested, c.NotTested},
	} {
		fmt.Fprintf(&sb, "| %s | %d |\n", row.status, row.n)
	}
	fmt.Fprintf(&sb, "| **Total** | %d |\n\n", c.Total)

	weakest := weakestRoutines(mutants)
	sb.WriteString("## Weakest Routines\n\n")
	if len(weakest) == 0 {
		sb.WriteString("No routine has surviving mutants.\n\n")
	} else {
		sb.WriteString("| Routine | Survived | Total | Score |\n")
		sb.WriteString("|---------|----------|-------|-------|\n")
		for i, g := range weakest {
			if i == weakestLimit {
				break
			}
			gc := g.counts()
			fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n", g.name, gc.Survived, gc.Total, rate(gc))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Operator Effectiveness\n\n")
	sb.WriteString("| Operator | Name | Killed | Survived | Kill Rate |\n")
	sb.WriteString("|----------|------|--------|----------|-----------|\n")
	for _, g := range operatorGroups(mutants) {
		gc := g.counts()
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %s |\n",
			g.name, mutation.OperatorName(g.name), gc.Killed, gc.Survived, rate(gc))
	}
	sb.WriteString("\n")

	if len(weakest) > 0 {
		engine := diff.NewEngine()
		sb.WriteString("## Surviving Mutants by Routine\n\n")
		for _, g := range weakest {
			fmt.Fprintf(&sb, "### `%s`\n\n", g.name)
			for _, m := range g.mutants {
				if m.Status != mutation.StatusSurvived {
					continue
				}
				fmt.Fprintf(&sb, "- #%d %s line %d: `%s`\n",
					m.ID, m.Operator, m.LineNumber, engine.InlineChange(m.OriginalCode, m.MutatedCode))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Next Steps\n\n")
	for i, step := range nextSteps(c, weakest, opts.Tested) {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	return sb.String()
}

// weakestRoutines returns routines with survivors, most survivors first,
// then lowest score, then name.
func weakestRoutines(mutants []*mutation.Mutant) []group {
	var out []group
	for _, g := range groupBy(mutants, byRoutine) {
		if g.counts().Survived > 0 {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].counts(), out[j].counts()
		if a.Survived != b.Survived {
			return a.Survived > b.Survived
		}
		if a.Score() != b.Score() {
			return a.Score() < b.Score()
		}
		return out[i].name < out[j].name
	})
	return out
}

// operatorGroups returns the operators present, in generation order.
func operatorGroups(mutants []*mutation.Mutant) []group {
	byName := make(map[string]group)
	for _, g := range groupBy(mutants, byOperator) {
		byName[g.name] = g
	}
	var out []group
	for _, op := range mutation.Operators {
		if g, ok := byName[op.Code]; ok {
			out = append(out, g)
			delete(byName, op.Code)
		}
	}
	// Results loaded from disk may carry codes this build does not know.
	rest := make([]string, 0, len(byName))
	for name := range byName {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, byName[name])
	}
	return out
}

func rate(c mutation.Counts) string {
	if c.Killed+c.Survived == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d%%", c.Score())
}

func nextSteps(c mutation.Counts, weakest []group, tested bool) []string {
	if !tested {
		return []string{
			fmt.Sprintf("Run `mutiny run --run-tests` to classify the %d generated mutants.", c.Total),
			"Review `mutation_report.md` for the operator and routine breakdown.",
		}
	}

	var steps []string
	if len(weakest) > 0 {
		steps = append(steps, fmt.Sprintf(
			"Add tests for `%s` first: it has the most surviving mutants (%d).",
			weakest[0].name, weakest[0].counts().Survived))
		steps = append(steps,
			"For each survivor, decide whether it is an equivalent mutant or a missing assertion. See `mutation_report.md`.")
	}
	if c.Timeouts > 0 {
		steps = append(steps, fmt.Sprintf(
			"Inspect the %d timed-out mutants. They usually loop forever; raise `execution.timeout` only if the suite is slow.",
			c.Timeouts))
	}
	if c.Errors > 0 {
		steps = append(steps, fmt.Sprintf(
			"Investigate the %d errored mutants. The suite could not run for them (see test output in `mutation_results.json`).",
			c.Errors))
	}
	if c.NotTested > 0 {
		steps = append(steps, fmt.Sprintf("Re-run to test the %d mutants left untested.", c.NotTested))
	}
	if len(steps) == 0 {
		steps = append(steps, "Every classified mutant was killed. Consider enabling more operators or routines.")
	}
	return steps
}
