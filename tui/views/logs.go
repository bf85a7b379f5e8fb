package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var logLevels = []string{"all", "info", "warn", "error"}

type logsMsg struct {
	logs []db.RunLog
}

// Logs shows the run log lines the pipeline stores next to each run.
type Logs struct {
	db            *db.Client
	width, height int
	logs          []db.RunLog
	levelIndex    int
	scrollOffset  int
}

func NewLogs(dbClient *db.Client) Logs {
	return Logs{db: dbClient}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	level := logLevels[l.levelIndex]
	return func() tea.Msg {
		var levelPtr *string
		if level != "all" {
			levelPtr = &level
		}
		logs, _ := l.db.GetRecentLogs(300, levelPtr)
		return logsMsg{logs}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) maxScroll() int {
	return max(len(l.logs)-l.visibleLines(), 0)
}

func (l Logs) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.scrollOffset = min(l.scrollOffset, l.maxScroll())

	case tea.WindowSizeMsg:
		l.width = msg.Width
		l.height = msg.Height - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				l.scrollOffset = 0
				return l, l.Refresh()
			}
		case "right", "l":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				l.scrollOffset = 0
				return l, l.Refresh()
			}
		case "up", "k":
			l.scrollOffset = max(l.scrollOffset-1, 0)
		case "down", "j":
			l.scrollOffset = min(l.scrollOffset+1, l.maxScroll())
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = l.maxScroll()
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	return max(l.height-6, 10)
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Run Logs"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		if i == l.levelIndex {
			parts = append(parts, styles.TabActive.Render("["+level+"]"))
		} else {
			parts = append(parts, styles.TabInactive.Render(level))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if len(l.logs) == 0 {
		return styles.Muted.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	lines := make([]string, 0, end-start)
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry db.RunLog) string {
	var levelStyle lipgloss.Style
	switch entry.Level {
	case "info":
		levelStyle = styles.StatusSuccess
	case "warn":
		levelStyle = styles.StatusPending
	case "error":
		levelStyle = styles.StatusError
	default:
		levelStyle = styles.Muted
	}

	site := ""
	if entry.SiteID != nil {
		site = "[" + *entry.SiteID + "] "
	}
	run := entry.RunID
	if len(run) > 8 {
		run = run[:8]
	}

	return fmt.Sprintf("%s %s %s %s%s",
		styles.Muted.Render(entry.Timestamp.Local().Format("01-02 15:04:05")),
		styles.Muted.Render(run),
		levelStyle.Render(fmt.Sprintf("%-5s", entry.Level)),
		styles.Muted.Render(site),
		truncate(entry.Message, l.width-40),
	)
}
