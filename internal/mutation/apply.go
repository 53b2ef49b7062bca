package mutation

import (
	"fmt"
	"strings"
)

// Apply returns content with the mutant's line replaced. The line ending of
// the original line is kept. It fails when the line no longer matches the
// code the mutant was generated from.
func Apply(m *Mutant, content []byte) ([]byte, error) {
	if m.MutatedLine == "" {
		return nil, fmt.Errorf("mutant %d has no replacement line", m.ID)
	}
	current, err := lineAt(string(content), m.LineNumber)
	if err != nil {
		return nil, fmt.Errorf("mutant %d: %w", m.ID, err)
	}
	if strings.TrimSpace(current) != m.OriginalCode {
		return nil, fmt.Errorf("mutant %d: line %d changed since generation", m.ID, m.LineNumber)
	}
	out, err := applyLine(string(content), m.LineNumber, m.MutatedLine)
	if err != nil {
		return nil, fmt.Errorf("mutant %d: %w", m.ID, err)
	}
	return []byte(out), nil
}

// lineBounds returns the byte range of a 1-based line's text, excluding its
// "\n" or "\r\n" terminator.
func lineBounds(content string, lineNo int) (int, int, error) {
	if lineNo < 1 {
		return 0, 0, fmt.Errorf("line %d out of range", lineNo)
	}
	start := 0
	for n := 1; n < lineNo; n++ {
		idx := strings.IndexByte(content[start:], '\n')
		if idx < 0 {
			return 0, 0, fmt.Errorf("line %d out of range", lineNo)
		}
		start += idx + 1
	}
	end := len(content)
	if idx := strings.IndexByte(content[start:], '\n'); idx >= 0 {
		end = start + idx
	}
	if end > start && content[end-1] == '\r' {
		end--
	}
	return start, end, nil
}

func lineAt(content string, lineNo int) (string, error) {
	start, end, err := lineBounds(content, lineNo)
	if err != nil {
		return "", err
	}
	return content[start:end], nil
}

func applyLine(content string, lineNo int, replacement string) (string, error) {
	start, end, err := lineBounds(content, lineNo)
	if err != nil {
		return "", err
	}
	return content[:start] + replacement + content[end:], nil
}
