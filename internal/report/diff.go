package report

import (
	"fmt"
	"strings"

	"mutiny/internal/mutation"
)

var (
	equalsRule = strings.Repeat("=", 80)
	dashRule   = strings.Repeat("-", 80)
	hashRule   = strings.Repeat("#", 80)
)

// RenderDiff renders consolidated_mutations.diff.
func RenderDiff(mutants []*mutation.Mutant, opts Options) string {
	var sb strings.Builder

	sb.WriteString(equalsRule + "\n")
	sb.WriteString("CONSOLIDATED MUTATION DIFF FILE\n")
	sb.WriteString(diffTitle(opts) + "\n")
	fmt.Fprintf(&sb, "Total Mutants: %d\n", len(mutants))
	if opts.Tested {
		c := mutation.Count(mutants)
		fmt.Fprintf(&sb, "Killed: %d, Survived: %d\n", c.Killed, c.Survived)
	}
	sb.WriteString(equalsRule + "\n\n")

	for _, m := range mutants {
		fmt.Fprintf(&sb, "Mutant #%03d - %s - %s\n", m.ID, m.Operator, m.Status)
		fmt.Fprintf(&sb, "Description: %s\n", m.Description)
		fmt.Fprintf(&sb, "Routine: %s\n", m.RoutineName)
		sb.WriteString(m.UnifiedDiff + "\n")
		sb.WriteString(dashRule + "\n\n")
	}
	return sb.String()
}

func diffTitle(opts Options) string {
	if opts.Target == "" {
		return "All Mutations"
	}
	return opts.Target + " - All Mutations"
}
