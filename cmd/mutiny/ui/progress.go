package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mutiny/internal/mutation"
	"mutiny/internal/runner"
)

// recentLimit caps the finished-mutant log shown under the bar.
const recentLimit = 8

// MutantEvent is a runner event copied at observer time. The runner keeps
// writing to its mutants, so the model never holds their pointers.
type MutantEvent struct {
	Finished  bool
	ID        int
	Operator  string
	Routine   string
	Line      int
	Status    mutation.Status
	Cached    bool
	Completed int
	Total     int
	Counts    mutation.Counts
}

// NewMutantEvent snapshots a runner event.
func NewMutantEvent(ev runner.Event) MutantEvent {
	out := MutantEvent{
		Finished:  ev.Kind == runner.EventFinished,
		Cached:    ev.Cached,
		Completed: ev.Completed,
		Total:     ev.Total,
		Counts:    ev.Counts,
	}
	if m := ev.Mutant; m != nil {
		out.ID = m.ID
		out.Operator = m.Operator
		out.Routine = m.RoutineName
		out.Line = m.LineNumber
		out.Status = m.Status
	}
	return out
}

// DoneMsg ends the progress view.
type DoneMsg struct {
	Err error
}

// ProgressModel is the live view of a running campaign.
type ProgressModel struct {
	title    string
	styles   Styles
	spinner  spinner.Model
	progress progress.Model
	cancel   context.CancelFunc

	width     int
	completed int
	total     int
	counts    mutation.Counts
	running   map[int]MutantEvent
	recent    []MutantEvent

	done        bool
	interrupted bool
	err         error
}

// NewProgressModel creates the view. cancel is called when the user quits
// before the campaign finishes.
func NewProgressModel(title string, total int, cancel context.CancelFunc) ProgressModel {
	styles := DefaultStyles()
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner
	return ProgressModel{
		title:    title,
		styles:   styles,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		cancel:   cancel,
		width:    80,
		total:    total,
		running:  make(map[int]MutantEvent),
	}
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.interrupted = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, msg.Width-10)

	case MutantEvent:
		m.apply(msg)

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ProgressModel) apply(ev MutantEvent) {
	if ev.Total > 0 {
		m.total = ev.Total
	}
	if !ev.Finished {
		m.running[ev.ID] = ev
		return
	}
	delete(m.running, ev.ID)
	m.completed = ev.Completed
	m.counts = ev.Counts
	m.recent = append(m.recent, ev)
	if len(m.recent) > recentLimit {
		m.recent = m.recent[len(m.recent)-recentLimit:]
	}
}

// Fraction is the share of mutants tested.
func (m ProgressModel) Fraction() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

// Interrupted reports whether the user quit before the campaign finished.
func (m ProgressModel) Interrupted() bool {
	return m.interrupted
}

// Err is the campaign error delivered with DoneMsg.
func (m ProgressModel) Err() error {
	return m.err
}

// View renders the model.
func (m ProgressModel) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render(" "+m.title+" ") + "\n\n")

	sb.WriteString(m.progress.ViewAs(m.Fraction()) + "\n")
	fmt.Fprintf(&sb, "%d/%d tested  %s %d  %s %d  %s %d  %s %d  score %s\n\n",
		m.completed, m.total,
		m.styles.Status(mutation.StatusKilled).Render("killed"), m.counts.Killed,
		m.styles.Status(mutation.StatusSurvived).Render("survived"), m.counts.Survived,
		m.styles.Status(mutation.StatusTimeout).Render("timeout"), m.counts.Timeouts,
		m.styles.Status(mutation.StatusError).Render("error"), m.counts.Errors,
		m.styles.Score(m.counts.Score()))

	if len(m.running) > 0 && !m.done {
		ids := make([]int, 0, len(m.running))
		for id := range m.running {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			ev := m.running[id]
			fmt.Fprintf(&sb, "%s #%03d %s %s:%d\n", m.spinner.View(), ev.ID, ev.Operator, ev.Routine, ev.Line)
		}
		sb.WriteString("\n")
	}

	for _, ev := range m.recent {
		status := m.styles.Status(ev.Status).Render(fmt.Sprintf("%-9s", ev.Status))
		line := fmt.Sprintf("  %s #%03d %s %s:%d", status, ev.ID, ev.Operator, ev.Routine, ev.Line)
		if ev.Cached {
			line += m.styles.Muted.Render(" (cached)")
		}
		sb.WriteString(line + "\n")
	}

	switch {
	case m.done && m.err != nil:
		sb.WriteString("\n" + m.styles.Error.Render("Stopped: "+m.err.Error()) + "\n")
	case m.done:
		sb.WriteString("\n" + m.styles.Success.Render("Done.") + "\n")
	default:
		sb.WriteString("\n" + m.styles.Muted.Render("q to stop (partial reports are still written)") + "\n")
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(sb.String())
}

// Observer forwards runner events to a running program.
func Observer(p *tea.Program) runner.Observer {
	return func(ev runner.Event) {
		p.Send(NewMutantEvent(ev))
	}
}

// RunProgress shows the progress view while run executes. Quitting the view
// cancels the context handed to run; RunProgress still waits for run to
// return so partial reports are written.
func RunProgress(ctx context.Context, title string, total int, run func(context.Context, runner.Observer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title, total, cancel), tea.WithContext(ctx))
	errc := make(chan error, 1)
	go func() {
		err := run(ctx, Observer(p))
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-errc
		return fmt.Errorf("progress view: %w", err)
	}
	return <-errc
}
