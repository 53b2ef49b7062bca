package report

import (
	"fmt"
	"sort"
	"strings"

	"mutiny/internal/mutation"
)

const analysisPrompt = "**Analysis Required:** Determine if this is an equivalent mutant or if a new test is needed.\n\n"

// group holds the mutants sharing an operator or routine.
type group struct {
	name    string
	mutants []*mutation.Mutant
}

func (g group) counts() mutation.Counts {
	return mutation.Count(g.mutants)
}

// groupBy buckets mutants by key and returns the groups sorted by name.
func groupBy(mutants []*mutation.Mutant, key func(*mutation.Mutant) string) []group {
	index := make(map[string]int)
	var groups []group
	for _, m := range mutants {
		k := key(m)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{name: k})
		}
		groups[i].mutants = append(groups[i].mutants, m)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].name < groups[j].name })
	return groups
}

func byOperator(m *mutation.Mutant) string { return m.Operator }
func byRoutine(m *mutation.Mutant) string  { return m.RoutineName }

// RenderMarkdown renders mutation_report.md.
func RenderMarkdown(mutants []*mutation.Mutant, opts Options) string {
	var sb strings.Builder

	title := opts.Title
	if title == "" {
		title = DefaultOptions().Title
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Total mutants generated:** %d\n\n", len(mutants))

	c := mutation.Count(mutants)
	if opts.Tested {
		sb.WriteString("## Mutation Testing Results\n\n")
		fmt.Fprintf(&sb, "- **Killed:** %d (%d%%)\n", c.Killed, c.Percent(c.Killed))
		fmt.Fprintf(&sb, "- **Survived:** %d (%d%%)\n", c.Survived, c.Percent(c.Survived))
		fmt.Fprintf(&sb, "- **Errors:** %d\n", c.Errors)
		fmt.Fprintf(&sb, "- **Timeouts:** %d\n", c.Timeouts)
		fmt.Fprintf(&sb, "- **Mutation Score:** %d%%\n\n", c.Score())
	}

	sb.WriteString("## Mutation Operators Summary\n\n")
	sb.WriteString("| Operator | Count | Killed | Survived | Description |\n")
	sb.WriteString("|----------|-------|--------|----------|-------------|\n")
	for _, g := range groupBy(mutants, byOperator) {
		gc := g.counts()
		fmt.Fprintf(&sb, "| %s | %d | %d | %d | %s |\n",
			g.name, gc.Total, gc.Killed, gc.Survived, mutation.OperatorName(g.name))
	}

	sb.WriteString("\n## Results by Routine/Function\n\n")
	sb.WriteString("| Routine | Total | Killed | Survived |\n")
	sb.WriteString("|---------|-------|--------|----------|\n")
	for _, g := range groupBy(mutants, byRoutine) {
		gc := g.counts()
		fmt.Fprintf(&sb, "| %s | %d | %d | %d |\n", g.name, gc.Total, gc.Killed, gc.Survived)
	}

	if opts.Tested && c.Survived > 0 {
		writeSurvivors(&sb, mutants, opts.SurvivorPreview)
	}

	sb.WriteString("\n## All Mutants (Detailed)\n\n")
	for _, m := range mutants {
		writeMutant(&sb, m, opts)
	}
	return sb.String()
}

func writeSurvivors(sb *strings.Builder, mutants []*mutation.Mutant, limit int) {
	sb.WriteString("\n## Survived Mutants (For Analysis)\n\n")
	sb.WriteString("These mutants were not killed by tests and need investigation:\n\n")

	shown := 0
	for _, m := range mutants {
		if m.Status != mutation.StatusSurvived {
			continue
		}
		if limit > 0 && shown >= limit {
			break
		}
		shown++
		fmt.Fprintf(sb, "### Mutant #%d - %s\n\n", m.ID, m.Operator)
		fmt.Fprintf(sb, "**Routine:** `%s`  \n", m.RoutineName)
		fmt.Fprintf(sb, "**Line:** %d  \n", m.LineNumber)
		fmt.Fprintf(sb, "**Description:** %s\n\n", m.Description)
		writeCode(sb, "**Original:**", m.OriginalCode)
		writeCode(sb, "**Mutated:**", m.MutatedCode)
		sb.WriteString(analysisPrompt)
		sb.WriteString("---\n\n")
	}
}

func writeMutant(sb *strings.Builder, m *mutation.Mutant, opts Options) {
	fmt.Fprintf(sb, "### Mutant #%d\n\n", m.ID)
	fmt.Fprintf(sb, "- **Operator:** %s\n", m.Operator)
	fmt.Fprintf(sb, "- **Routine:** %s\n", m.RoutineName)
	fmt.Fprintf(sb, "- **Line:** %d\n", m.LineNumber)
	fmt.Fprintf(sb, "- **Status:** %s\n", m.Status)
	fmt.Fprintf(sb, "- **Description:** %s\n\n", m.Description)
	writeCode(sb, "**Original Code:**", m.OriginalCode)
	writeCode(sb, "**Mutated Code:**", m.MutatedCode)
	fmt.Fprintf(sb, "**Unified Diff:** See `%s` (Mutant #%d)\n\n", DiffFile, m.ID)

	if opts.Tested && m.TestOutput != "" {
		sb.WriteString("<details>\n<summary>Test Output</summary>\n\n```\n")
		sb.WriteString(truncateRunes(m.TestOutput, opts.TestOutputLimit))
		sb.WriteString("\n```\n</details>\n\n")
	}
	sb.WriteString("---\n\n")
}

func writeCode(sb *strings.Builder, label, code string) {
	sb.WriteString(label + "\n```python\n")
	sb.WriteString(code + "\n")
	sb.WriteString("```\n\n")
}

// truncateRunes keeps the first n characters. n <= 0 keeps everything.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
