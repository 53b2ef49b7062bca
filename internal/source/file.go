// Package source analyses the Python file under mutation with Tree-sitter:
// which lines hold executable code, which routine each line belongs to, and
// the verbatim text of routines for the report.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"mutiny/internal/logging"
)

// ModuleLevel is the routine name of lines outside any function.
const ModuleLevel = "module_level"

// ErrNoSource is returned when the target file does not exist.
var ErrNoSource = errors.New("source file not found")

// ErrSyntax is returned when the target does not parse as Python.
var ErrSyntax = errors.New("syntax error in source")

// Routine is a function or method definition.
type Routine struct {
	Name          string
	QualifiedName string // Class.method, outer.inner
	StartLine     int    // 1-based, decorators included
	EndLine       int    // 1-based, inclusive
}

// Contains reports whether a 1-based line falls inside the routine.
func (r Routine) Contains(line int) bool {
	return line >= r.StartLine && line <= r.EndLine
}

// File is a parsed Python source file.
type File struct {
	Path    string
	Content []byte

	// Lines split on "\n" with any trailing "\r" removed. A file ending in a
	// newline has an empty last element.
	Lines []string

	// Routines in source order.
	Routines []Routine

	code        []bool // indexed by 0-based line
	lineOffsets []int  // byte offset of each line start
	syntaxErr   bool
	errorLine   int
}

// Load reads and parses a file from disk.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, content)
}

// Parse builds a File from Python source.
func Parse(path string, content []byte) (*File, error) {
	timer := logging.StartTimer(logging.CategorySource, "parse "+filepath.Base(path))
	defer timer.Stop()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	f := &File{
		Path:    path,
		Content: content,
	}
	f.splitLines()
	f.code = make([]bool, len(f.Lines))

	root := tree.RootNode()
	if root.HasError() {
		f.syntaxErr = true
		f.errorLine = firstErrorLine(root)
	}

	f.collectRoutines(root, nil)
	sort.SliceStable(f.Routines, func(i, j int) bool {
		return f.Routines[i].StartLine < f.Routines[j].StartLine
	})

	f.markCode(root)
	f.dropAnnotationLines()

	logging.SourceDebug("Parsed %s: %d lines, %d routines, %d code lines",
		filepath.Base(path), len(f.Lines), len(f.Routines), len(f.CodeLines()))
	return f, nil
}

func (f *File) splitLines() {
	raw := strings.Split(string(f.Content), "\n")
	f.Lines = make([]string, len(raw))
	f.lineOffsets = make([]int, len(raw))
	offset := 0
	for i, line := range raw {
		f.lineOffsets[i] = offset
		offset += len(line) + 1
		f.Lines[i] = strings.TrimSuffix(line, "\r")
	}
}

// Line returns the 1-based line, or "" when out of range.
func (f *File) Line(n int) string {
	if n < 1 || n > len(f.Lines) {
		return ""
	}
	return f.Lines[n-1]
}

// IsCode reports whether a 1-based line holds executable code.
func (f *File) IsCode(n int) bool {
	if n < 1 || n > len(f.code) {
		return false
	}
	return f.code[n-1]
}

// CodeLines returns the 1-based numbers of all code lines in order.
func (f *File) CodeLines() []int {
	var out []int
	for i, ok := range f.code {
		if ok {
			out = append(out, i+1)
		}
	}
	return out
}

// HasSyntaxErrors reports whether Tree-sitter produced ERROR or MISSING nodes.
func (f *File) HasSyntaxErrors() bool {
	return f.syntaxErr
}

// SyntaxErrorLine returns the first line with a syntax error, or 0.
func (f *File) SyntaxErrorLine() int {
	return f.errorLine
}

// RoutineAt returns the innermost routine containing a 1-based line.
func (f *File) RoutineAt(line int) (Routine, bool) {
	var best Routine
	found := false
	for _, r := range f.Routines {
		if r.StartLine > line {
			break
		}
		if r.Contains(line) && (!found || r.StartLine >= best.StartLine) {
			best = r
			found = true
		}
	}
	return best, found
}

// RoutineName returns the qualified name of the innermost routine containing
// the line, or ModuleLevel.
func (f *File) RoutineName(line int) string {
	if r, ok := f.RoutineAt(line); ok {
		return r.QualifiedName
	}
	return ModuleLevel
}

func firstErrorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.HasError() || child.IsMissing() {
			if line := firstErrorLine(child); line > 0 {
				return line
			}
		}
	}
	return 0
}
