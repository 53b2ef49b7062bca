package report

import (
	"fmt"
	"strings"

	"mutiny/internal/mutation"
	"mutiny/internal/source"
)

// RenderRoutines renders tested_routines_source.py.
func RenderRoutines(routines []source.RoutineSource, target string) string {
	var sb strings.Builder
	sb.WriteString(`"""` + "\n")
	fmt.Fprintf(&sb, "SOURCE CODE FOR TESTED ROUTINES FROM %s\n", target)
	sb.WriteString(equalsRule + "\n")
	sb.WriteString(`"""` + "\n\n")

	for _, r := range routines {
		sb.WriteString("\n" + hashRule + "\n")
		fmt.Fprintf(&sb, "# ROUTINE: %s\n", r.Routine.QualifiedName)
		fmt.Fprintf(&sb, "# Lines: %d-%d\n", r.Routine.StartLine, r.Routine.EndLine)
		sb.WriteString(hashRule + "\n\n")
		sb.WriteString(r.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// SelectRoutines picks the routines for tested_routines_source.py: the
// configured names, or every routine that holds at least one mutant.
func SelectRoutines(f *source.File, mutants []*mutation.Mutant, names []string) []source.RoutineSource {
	if len(names) == 0 {
		seen := make(map[string]bool)
		for _, m := range mutants {
			if m.RoutineName == source.ModuleLevel || seen[m.RoutineName] {
				continue
			}
			seen[m.RoutineName] = true
			names = append(names, m.RoutineName)
		}
	}
	return f.ExtractRoutines(names)
}
