// Package diff computes line diffs between an original and a mutated file
// with sergi/go-diff and renders them in unified format.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line represents a single line in the diff
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk represents a group of changes
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FileDiff represents changes to a single file
type FileDiff struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// Empty reports whether the two sides were identical.
func (d *FileDiff) Empty() bool {
	return len(d.Hunks) == 0
}

// Engine wraps a diffmatchpatch instance tuned for source files.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int
}

// NewEngine creates a new diff engine with optimal settings
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	// A deadline would make output depend on machine speed.
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp, context: DefaultContext}
}

// WithContext returns a copy of the engine using n context lines.
func (e *Engine) WithContext(n int) *Engine {
	if n < 0 {
		n = 0
	}
	return &Engine{dmp: e.dmp, context: n}
}

// DefaultEngine is a singleton engine for general use
var DefaultEngine = NewEngine()

// ComputeDiff creates a FileDiff from old and new content strings.
func (e *Engine) ComputeDiff(oldPath, newPath, oldContent, newContent string) *FileDiff {
	fileDiff := &FileDiff{OldPath: oldPath, NewPath: newPath}
	if oldContent == newContent {
		return fileDiff
	}

	// Diff on line hashes so changes never split a line.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	fileDiff.Hunks = groupIntoHunks(toOperations(diffs), e.context)
	return fileDiff
}

// ComputeDiff is a convenience function using the default engine
func ComputeDiff(oldPath, newPath, oldContent, newContent string) *FileDiff {
	return DefaultEngine.ComputeDiff(oldPath, newPath, oldContent, newContent)
}

// operation represents a single line operation
type operation struct {
	typ     LineType
	oldLine int // 1-based, 0 when absent
	newLine int
	content string
}

// toOperations flattens diffmatchpatch chunks into per-line operations.
func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 1, 1

	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		lines := strings.SplitAfter(d.Text, "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, raw := range lines {
			content := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, content})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, 0, content})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, 0, newLine, content})
				newLine++
			}
		}
	}
	return ops
}

// groupIntoHunks collects changed lines with up to ctx lines of context on
// each side, merging changes whose context would overlap.
func groupIntoHunks(ops []operation, ctx int) []Hunk {
	var hunks []Hunk
	prevEnd := 0

	i := 0
	for i < len(ops) {
		if ops[i].typ == LineContext {
			i++
			continue
		}

		start := i - ctx
		if start < 0 {
			start = 0
		}
		// Never reach back into the previous hunk.
		if start < prevEnd {
			start = prevEnd
		}

		end := i
		for end < len(ops) {
			if ops[end].typ != LineContext {
				end++
				continue
			}
			run := end
			for run < len(ops) && ops[run].typ == LineContext {
				run++
			}
			if run < len(ops) && run-end <= 2*ctx {
				end = run
				continue
			}
			end += min(ctx, run-end)
			break
		}

		hunks = append(hunks, buildHunk(ops, start, end))
		prevEnd = end
		i = end
	}
	return hunks
}

func buildHunk(ops []operation, start, end int) Hunk {
	var h Hunk
	for _, op := range ops[start:end] {
		switch op.typ {
		case LineContext:
			h.Lines = append(h.Lines, Line{LineNum: op.oldLine, Content: op.content, Type: LineContext})
		case LineRemoved:
			h.Lines = append(h.Lines, Line{LineNum: op.oldLine, Content: op.content, Type: LineRemoved})
		case LineAdded:
			h.Lines = append(h.Lines, Line{LineNum: op.newLine, Content: op.content, Type: LineAdded})
		}
		if op.typ != LineAdded {
			h.OldCount++
			if h.OldStart == 0 {
				h.OldStart = op.oldLine
			}
		}
		if op.typ != LineRemoved {
			h.NewCount++
			if h.NewStart == 0 {
				h.NewStart = op.newLine
			}
		}
	}
	// A pure insertion or deletion starts after the last line of the empty side.
	if h.OldCount == 0 {
		h.OldStart = precedingLine(ops, start, true)
	}
	if h.NewCount == 0 {
		h.NewStart = precedingLine(ops, start, false)
	}
	return h
}

func precedingLine(ops []operation, idx int, old bool) int {
	for j := idx - 1; j >= 0; j-- {
		if old && ops[j].oldLine > 0 {
			return ops[j].oldLine
		}
		if !old && ops[j].newLine > 0 {
			return ops[j].newLine
		}
	}
	return 0
}

// Unified renders the diff in unified format without a trailing newline.
// Paths are written as given; callers pass workspace-relative paths.
func (d *FileDiff) Unified() string {
	if d.Empty() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s", d.OldPath, d.NewPath)
	for _, h := range d.Hunks {
		fmt.Fprintf(&sb, "\n@@ -%s +%s @@", hunkRange(h.OldStart, h.OldCount), hunkRange(h.NewStart, h.NewCount))
		for _, l := range h.Lines {
			sb.WriteByte('\n')
			switch l.Type {
			case LineAdded:
				sb.WriteByte('+')
			case LineRemoved:
				sb.WriteByte('-')
			default:
				sb.WriteByte(' ')
			}
			sb.WriteString(l.Content)
		}
	}
	return sb.String()
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// ComputeWordLevelDiff computes word-level differences within a line
// This is useful for highlighting specific changes within modified lines
func (e *Engine) ComputeWordLevelDiff(oldLine, newLine string) []diffmatchpatch.Diff {
	diffs := e.dmp.DiffMain(oldLine, newLine, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	return diffs
}

// InlineChange renders a one-line change as text with deletions in [-...-]
// and insertions in {+...+}, the notation of `git diff --word-diff`.
func (e *Engine) InlineChange(oldLine, newLine string) string {
	var sb strings.Builder
	for _, d := range e.ComputeWordLevelDiff(oldLine, newLine) {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}
