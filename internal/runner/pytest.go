package runner

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// PYTEST OUTPUT PARSER
// =============================================================================
// Line-oriented parser for `pytest -v --tb=short` output. It recovers which
// tests failed against a mutant and the final counts line. Three sources of
// test ids are used, in order of precision:
// - short test summary lines (FAILED path::test - Error: msg)
// - verbose progress lines (path::test FAILED [ 50%])
// - failure block headers (_____ test_name _____)

// pytestState is the section of output being parsed.
type pytestState int

const (
	stateIdle pytestState = iota
	stateFailures
	stateShortSummary
)

var (
	// ===== SECTION NAME =====
	sectionHeaderRegex = regexp.MustCompile(`^={3,}\s*(.+?)\s*={3,}$`)

	// __________ TestClass.test_method __________
	testBlockHeaderRegex = regexp.MustCompile(`^_{3,}\s*(.+?)\s*_{3,}$`)

	// FAILED tests/test_file.py::TestClass::test_method - ErrorType: msg
	shortSummaryRegex = regexp.MustCompile(`^(FAILED|ERROR)\s+(\S+?::\S+|\S+\.py)(?:\s+-\s+(.*))?$`)

	// tests/test_file.py::test_func FAILED                     [ 50%]
	verboseResultRegex = regexp.MustCompile(`^(\S+::\S+)\s+(PASSED|FAILED|ERROR|SKIPPED|XFAIL|XPASS)\b`)

	// 1 failed, 5 passed, 2 warnings
	countRegex = regexp.MustCompile(`(\d+)\s+(passed|failed|errors?|skipped|xfailed|xpassed|deselected|warnings?)\b`)
)

// PytestFailure is one failing test.
type PytestFailure struct {
	// NodeID is the pytest node id when known (tests/test_a.py::test_x),
	// otherwise the failure block title.
	NodeID  string
	Message string
}

// PytestSummary is the parsed final counts line.
type PytestSummary struct {
	Passed   int
	Failed   int
	Errors   int
	Skipped  int
	Warnings int
	Found    bool
}

// PytestResult is everything recovered from one run.
type PytestResult struct {
	Failures []PytestFailure
	Summary  PytestSummary
}

// FailedIDs returns the distinct failing test ids in first-seen order.
func (r PytestResult) FailedIDs() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.NodeID)
	}
	return out
}

type pytestParser struct {
	state    pytestState
	failures []PytestFailure
	index    map[string]int
	blocks   []string
	summary  PytestSummary
}

// ParsePytestOutput parses pytest verbose output.
func ParsePytestOutput(output string) PytestResult {
	p := &pytestParser{index: make(map[string]int)}
	for _, line := range strings.Split(output, "\n") {
		p.processLine(strings.TrimRight(line, "\r"))
	}
	p.mergeBlockHeaders()
	return PytestResult{Failures: p.failures, Summary: p.summary}
}

func (p *pytestParser) processLine(line string) {
	if matches := sectionHeaderRegex.FindStringSubmatch(line); len(matches) > 1 {
		p.handleSection(matches[1])
		return
	}

	if matches := verboseResultRegex.FindStringSubmatch(line); len(matches) > 2 {
		if matches[2] == "FAILED" || matches[2] == "ERROR" {
			p.add(matches[1], "")
		}
		return
	}

	switch p.state {
	case stateFailures:
		if matches := testBlockHeaderRegex.FindStringSubmatch(line); len(matches) > 1 {
			p.blocks = append(p.blocks, matches[1])
		}
	case stateShortSummary:
		if matches := shortSummaryRegex.FindStringSubmatch(line); len(matches) > 2 {
			p.add(matches[2], strings.TrimSpace(matches[3]))
		}
	}
}

func (p *pytestParser) handleSection(name string) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "short test summary"):
		p.state = stateShortSummary
	case lower == "failures" || lower == "errors":
		p.state = stateFailures
	case countRegex.MatchString(lower) && strings.Contains(lower, " in "):
		p.parseCounts(lower)
		p.state = stateIdle
	default:
		p.state = stateIdle
	}
}

func (p *pytestParser) parseCounts(line string) {
	p.summary.Found = true
	for _, m := range countRegex.FindAllStringSubmatch(line, -1) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "passed":
			p.summary.Passed = n
		case "failed":
			p.summary.Failed = n
		case "error", "errors":
			p.summary.Errors = n
		case "skipped":
			p.summary.Skipped = n
		case "warning", "warnings":
			p.summary.Warnings = n
		}
	}
}

func (p *pytestParser) add(id, message string) {
	if i, ok := p.index[id]; ok {
		if p.failures[i].Message == "" {
			p.failures[i].Message = message
		}
		return
	}
	p.index[id] = len(p.failures)
	p.failures = append(p.failures, PytestFailure{NodeID: id, Message: message})
}

var errorBlockPrefixes = []string{"ERROR collecting ", "ERROR at setup of ", "ERROR at teardown of "}

// mergeBlockHeaders adds failure blocks whose test was not reported with a
// node id, e.g. when -v and the short summary are both disabled.
func (p *pytestParser) mergeBlockHeaders() {
	for _, title := range p.blocks {
		for _, prefix := range errorBlockPrefixes {
			title = strings.TrimPrefix(title, prefix)
		}
		if _, ok := p.index[title]; ok || p.coveredByNodeID(title) {
			continue
		}
		p.add(title, "")
	}
}

// coveredByNodeID matches "TestClass.test_method" against
// "path::TestClass::test_method".
func (p *pytestParser) coveredByNodeID(title string) bool {
	suffix := "::" + strings.ReplaceAll(title, ".", "::")
	for _, f := range p.failures {
		if strings.HasSuffix(f.NodeID, suffix) {
			return true
		}
	}
	return false
}
