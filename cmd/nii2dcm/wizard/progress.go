package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mrsinham/nii2dcm/internal/convert"
)

// ProgressMsg reports one more written slice.
type ProgressMsg struct {
	Current int
	Total   int
}

// DoneMsg ends the conversion.
type DoneMsg struct {
	Report   *convert.Report
	Err      error
	Duration time.Duration
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63"))

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	percentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)
)

// ProgressModel shows conversion progress, then the outcome.
type ProgressModel struct {
	current   int
	total     int
	start     time.Time
	outputDir string
	cancel    context.CancelFunc

	done      bool
	cancelled bool
	report    *convert.Report
	err       error
	duration  time.Duration
	width     int
}

// NewProgressModel returns a model for a conversion writing into outputDir.
// cancel stops the conversion when the user presses Ctrl+C.
func NewProgressModel(outputDir string, cancel context.CancelFunc) *ProgressModel {
	return &ProgressModel{
		start:     time.Now(),
		outputDir: outputDir,
		cancel:    cancel,
	}
}

// Init implements tea.Model
func (m *ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.done {
			if msg.String() == "ctrl+c" {
				m.cancelled = true
				if m.cancel != nil {
					m.cancel()
				}
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "esc", "enter", "q":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case ProgressMsg:
		m.current = msg.Current
		m.total = msg.Total
	case DoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		m.duration = msg.Duration
	}
	return m, nil
}

// View implements tea.Model
func (m *ProgressModel) View() string {
	switch {
	case m.cancelled:
		return "Cancelled.\n"
	case m.done && m.err != nil:
		return m.viewError()
	case m.done:
		return m.viewComplete()
	}

	var percent float64
	if m.total > 0 {
		percent = float64(m.current) / float64(m.total) * 100
	}
	barWidth := 40
	if m.width > 60 {
		barWidth = min(m.width/2, 60)
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Converting segmentation..."))
	sb.WriteString("\n\n")
	sb.WriteString(renderBar(percent, barWidth))
	sb.WriteString(" ")
	sb.WriteString(percentStyle.Render(fmt.Sprintf("%d%%", int(percent))))
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Slice %d/%d", m.current, m.total)))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Elapsed: %.1fs", time.Since(m.start).Seconds())))
	sb.WriteString("\n\n")
	sb.WriteString(hintStyle.Render("Press Ctrl+C to cancel"))
	return sb.String()
}

func (m *ProgressModel) viewComplete() string {
	r := m.report
	var sb strings.Builder
	sb.WriteString(successStyle.Render("✓ Conversion complete!"))
	sb.WriteString("\n\n")

	stats := []struct {
		label string
		value string
	}{
		{"Mapped slices", fmt.Sprintf("%d/%d", r.Mapped, r.Total)},
		{"Files written", fmt.Sprintf("%d", len(r.Files))},
		{"Total size", humanize.Bytes(uint64(r.Bytes))},
		{"Duration", fmt.Sprintf("%.1fs", m.duration.Seconds())},
		{"Output", m.outputDir},
	}
	for _, s := range stats {
		sb.WriteString("  ")
		sb.WriteString(dimStyle.Render(s.label + ":"))
		sb.WriteString(" ")
		sb.WriteString(valueStyle.Render(s.value))
		sb.WriteString("\n")
	}

	if len(r.Unmapped) > 0 {
		sb.WriteString("\n")
		sb.WriteString(warnStyle.Render(fmt.Sprintf("%d volume slices left unmapped", len(r.Unmapped))))
		sb.WriteString("\n")
	}
	if len(r.Inconsistent) > 0 {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("%d checked slices disagree with the image", len(r.Inconsistent))))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(hintStyle.Render("Press Enter or q to exit"))
	return sb.String()
}

func (m *ProgressModel) viewError() string {
	var sb strings.Builder
	sb.WriteString(errorStyle.Render("✗ Conversion failed"))
	sb.WriteString("\n\n  ")
	sb.WriteString(m.err.Error())
	sb.WriteString("\n\n")
	sb.WriteString(hintStyle.Render("Press Enter or q to exit"))
	return sb.String()
}

func renderBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return barStyle.Render("["+strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)+"]")
}

// Err returns the conversion error, if any.
func (m *ProgressModel) Err() error { return m.err }

// Cancelled reports whether the user stopped the conversion.
func (m *ProgressModel) Cancelled() bool { return m.cancelled }

// Report returns the conversion report once done.
func (m *ProgressModel) Report() *convert.Report { return m.report }
