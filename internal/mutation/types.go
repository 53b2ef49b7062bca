// Package mutation generates mutants of a Python source file with a fixed
// set of textual mutation operators and applies them to file content.
package mutation

// Status is the outcome of testing one mutant.
type Status string

const (
	StatusNotTested Status = "NOT_TESTED"

	// StatusKilled means at least one test failed against the mutant.
	StatusKilled Status = "KILLED"

	// StatusSurvived means the whole suite passed against the mutant.
	StatusSurvived Status = "SURVIVED"

	// StatusTimeout means the suite exceeded the per-mutant timeout.
	StatusTimeout Status = "TIMEOUT"

	// StatusError means the suite could not be run at all.
	StatusError Status = "ERROR"
)

// Mutant is one single-line change of the target file.
type Mutant struct {
	ID           int    `json:"id"`
	Operator     string `json:"operator"`
	Description  string `json:"description"`
	OriginalCode string `json:"original_code"`
	MutatedCode  string `json:"mutated_code"`
	LineNumber   int    `json:"line_number"`
	UnifiedDiff  string `json:"unified_diff"`
	Status       Status `json:"status"`
	TestOutput   string `json:"test_output"`
	RoutineName  string `json:"routine_name"`

	// Test ids that failed against the mutant, in report order.
	KilledBy []string `json:"killed_by"`

	// MutatedLine is the full replacement line, indentation included.
	MutatedLine string `json:"-"`
}

// Tested reports whether the mutant has an outcome.
func (m *Mutant) Tested() bool {
	return m.Status != "" && m.Status != StatusNotTested
}

// Outcome is the result of running the suite against one mutant.
type Outcome struct {
	Status     Status
	TestOutput string
	KilledBy   []string
}

// Record copies an outcome onto the mutant.
func (m *Mutant) Record(o Outcome) {
	m.Status = o.Status
	m.TestOutput = o.TestOutput
	m.KilledBy = o.KilledBy
	if m.KilledBy == nil {
		m.KilledBy = []string{}
	}
}

// Counts tallies mutants by status.
type Counts struct {
	Total     int `json:"total"`
	Killed    int `json:"killed"`
	Survived  int `json:"survived"`
	Timeouts  int `json:"timeouts"`
	Errors    int `json:"errors"`
	NotTested int `json:"not_tested"`
}

// Count tallies a mutant list.
func Count(mutants []*Mutant) Counts {
	c := Counts{Total: len(mutants)}
	for _, m := range mutants {
		c.Add(m.Status)
	}
	return c
}

// Add records one outcome without touching Total.
func (c *Counts) Add(s Status) {
	switch s {
	case StatusKilled:
		c.Killed++
	case StatusSurvived:
		c.Survived++
	case StatusTimeout:
		c.Timeouts++
	case StatusError:
		c.Errors++
	default:
		c.NotTested++
	}
}

// Score is killed*100/(killed+survived) with integer division, or 0 when
// nothing was classified. Timeouts and errors are excluded.
func (c Counts) Score() int {
	if c.Killed+c.Survived == 0 {
		return 0
	}
	return c.Killed * 100 / (c.Killed + c.Survived)
}

// Percent returns n*100/Total with integer division.
func (c Counts) Percent(n int) int {
	if c.Total == 0 {
		return 0
	}
	return n * 100 / c.Total
}
