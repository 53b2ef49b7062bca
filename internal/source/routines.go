package source

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// collectRoutines walks the tree and records every function_definition with
// its enclosing class/function scope.
func (f *File) collectRoutines(node *sitter.Node, scope []string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "function_definition":
			name := f.nodeName(child)
			if name == "" {
				f.collectRoutines(child, scope)
				continue
			}
			start := child
			if p := child.Parent(); p != nil && p.Type() == "decorated_definition" {
				start = p
			}
			qualified := append(append([]string(nil), scope...), name)
			f.Routines = append(f.Routines, Routine{
				Name:          name,
				QualifiedName: strings.Join(qualified, "."),
				StartLine:     int(start.StartPoint().Row) + 1,
				EndLine:       endLine(child),
			})
			if body := child.ChildByFieldName("body"); body != nil {
				f.collectRoutines(body, qualified)
			}

		case "class_definition":
			name := f.nodeName(child)
			inner := scope
			if name != "" {
				inner = append(append([]string(nil), scope...), name)
			}
			if body := child.ChildByFieldName("body"); body != nil {
				f.collectRoutines(body, inner)
			}

		default:
			f.collectRoutines(child, scope)
		}
	}
}

func (f *File) nodeName(n *sitter.Node) string {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return nameNode.Content(f.Content)
}

// endLine converts a node end point to a 1-based inclusive line. A node that
// ends at column 0 finished on the previous line.
func endLine(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

// RoutineSource is the verbatim text of one routine.
type RoutineSource struct {
	Routine Routine
	Text    string
}

// ExtractRoutines returns the source of the named routines in source order.
// Names match either the bare or the qualified name. Unknown names are
// ignored. An empty list selects nothing.
func (f *File) ExtractRoutines(names []string) []RoutineSource {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []RoutineSource
	for _, r := range f.Routines {
		if !want[r.Name] && !want[r.QualifiedName] {
			continue
		}
		out = append(out, RoutineSource{Routine: r, Text: f.lineRange(r.StartLine, r.EndLine)})
	}
	return out
}

// lineRange returns lines start..end (1-based, inclusive) with their
// original line endings.
func (f *File) lineRange(start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(f.Lines) {
		end = len(f.Lines)
	}
	if start > end {
		return ""
	}
	from := f.lineOffsets[start-1]
	to := len(f.Content)
	if end < len(f.lineOffsets) {
		to = f.lineOffsets[end]
	}
	return string(f.Content[from:to])
}
