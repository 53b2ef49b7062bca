package source

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// markCode flags every line that starts a syntax token outside comments and
// docstrings. String literals are atomic: only their first line counts.
func (f *File) markCode(node *sitter.Node) {
	switch node.Type() {
	case "comment":
		return
	case "expression_statement":
		if isBareString(node) {
			return
		}
	case "string", "concatenated_string":
		f.mark(node)
		if node.Type() == "string" {
			return
		}
	}

	count := int(node.ChildCount())
	if count == 0 {
		f.mark(node)
		return
	}
	for i := 0; i < count; i++ {
		f.markCode(node.Child(i))
	}
}

func (f *File) mark(n *sitter.Node) {
	row := int(n.StartPoint().Row)
	if row < len(f.code) && n.EndByte() > n.StartByte() {
		f.code[row] = true
	}
}

// isBareString reports a statement that is only a string literal: module,
// class and function docstrings as well as string "comments".
func isBareString(n *sitter.Node) bool {
	if n.NamedChildCount() != 1 {
		return false
	}
	switch n.NamedChild(0).Type() {
	case "string", "concatenated_string":
		return true
	}
	return false
}

// dropAnnotationLines removes lines holding typing Doc("...") annotations,
// which carry documentation rather than behaviour.
func (f *File) dropAnnotationLines() {
	for i, line := range f.Lines {
		if !f.code[i] {
			continue
		}
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "Doc(") || (strings.HasSuffix(stripped, "),") && strings.Contains(line, "Doc(")) {
			f.code[i] = false
		}
	}
}
