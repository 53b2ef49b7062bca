package runner

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Normalizer rewrites the run-specific parts of test output so the same
// outcome always stores the same text.
type Normalizer struct {
	paths []string
}

var volatilePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// platform linux -- Python 3.12.1, pytest-8.0.0, pluggy-1.4.0 -- /usr/bin/python3
	{regexp.MustCompile(`(?m)^platform \S+ -- Python .*$`), "platform <host>"},
	{regexp.MustCompile(`(?m)^plugins: .*$`), "plugins: <plugins>"},
	{regexp.MustCompile(`(?m)^cachedir: .*$`), "cachedir: <cachedir>"},
	// interpreter install prefixes in tracebacks
	{regexp.MustCompile(`[^\s"'(]*[/\\](?:site|dist)-packages[/\\]`), "<site-packages>/"},
	{regexp.MustCompile(`[^\s"'(]*[/\\]lib[/\\]python3\.\d+[/\\]`), "<stdlib>/"},
	// 2024-05-01 12:00:00.123456 / 2024-05-01T12:00:00Z
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), "<timestamp>"},
	// in 0.45s / in 1.20s (0:00:01)
	{regexp.MustCompile(`\bin \d+(?:\.\d+)?s(?: \(\d+:\d{2}:\d{2}\))?`), "in <duration>"},
	// [100%] stays, but per-test durations from --durations do not
	{regexp.MustCompile(`(?m)^\d+(?:\.\d+)?s (call|setup|teardown)\b`), "<duration> $1"},
	// <object at 0x7f3a2c1b9d30>
	{regexp.MustCompile(`0x[0-9a-fA-F]{6,16}`), "0x<addr>"},
	// pid 1234 / pid=1234
	{regexp.MustCompile(`\bpid[ =:]\d+`), "pid <pid>"},
	// /tmp/pytest-of-user/pytest-12/test_x0
	{regexp.MustCompile(`pytest-of-[^/\s]+/pytest-\d+`), "pytest-of-<user>/pytest-<n>"},
}

// NewNormalizer returns a normalizer that also replaces each of paths with
// a stable placeholder. Longer paths are replaced first so a workspace
// nested in a temp dir is not half-rewritten.
func NewNormalizer(paths ...string) *Normalizer {
	n := &Normalizer{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		n.paths = append(n.paths, filepath.Clean(p))
	}
	sort.SliceStable(n.paths, func(i, j int) bool { return len(n.paths[i]) > len(n.paths[j]) })
	return n
}

// Normalize returns output with volatile fragments replaced.
func (n *Normalizer) Normalize(output string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	for _, p := range n.paths {
		output = strings.ReplaceAll(output, p, "<workspace>")
	}
	for _, v := range volatilePatterns {
		output = v.re.ReplaceAllString(output, v.repl)
	}
	return output
}
