package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table is a rounded-border report table. Count columns can be right
// aligned, and an optional total row is rendered in bold below a rule.
type Table struct {
	title   string
	headers []string
	rows    [][]string
	total   []string
	right   map[int]bool
}

// NewTable starts a table. An empty title renders no caption.
func NewTable(title string, headers ...string) *Table {
	return &Table{title: title, headers: headers, right: make(map[int]bool)}
}

// AlignRight right-aligns the given 0-based columns.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// AddRow appends a row. Cells may already carry styling; short rows are
// padded and long rows cut to the header count.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, t.fit(cells))
}

// Total sets the row rendered last, separated from the data rows.
func (t *Table) Total(cells ...string) {
	t.total = t.fit(cells)
}

// Len is the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) fit(cells []string) []string {
	row := make([]string, len(t.headers))
	copy(row, cells)
	return row
}

// View renders the table, or "" when it has no rows.
func (t *Table) View(styles Styles) string {
	if len(t.rows) == 0 {
		return ""
	}

	rows := t.rows
	if t.total != nil {
		rule := make([]string, len(t.headers))
		for i, h := range t.headers {
			rule[i] = strings.Repeat("─", t.columnWidth(i, h))
		}
		rows = append(append(rows[:len(rows):len(rows)], rule), t.total)
	}
	totalRow := len(rows) - 1

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Theme.Border)).
		Headers(t.headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				s = s.Bold(true).Foreground(styles.Theme.Primary)
			case t.total != nil && row == totalRow-1:
				s = s.Foreground(styles.Theme.Muted)
			case t.total != nil && row == totalRow:
				s = s.Bold(true)
			}
			if t.right[col] && row != table.HeaderRow {
				s = s.Align(lipgloss.Right)
			}
			return s
		})

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(styles.Title.Render(t.title))
		sb.WriteString("\n")
	}
	sb.WriteString(tbl.Render())
	sb.WriteString("\n")
	return sb.String()
}

// columnWidth is the widest visible cell of column i, header included.
func (t *Table) columnWidth(i int, header string) int {
	w := lipgloss.Width(header)
	for _, r := range append(t.rows[:len(t.rows):len(t.rows)], t.total) {
		if i < len(r) {
			w = max(w, lipgloss.Width(r[i]))
		}
	}
	return w
}
