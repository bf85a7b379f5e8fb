package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	stats []db.SiteStats
	runs  []db.PipelineRun
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	stats         []db.SiteStats
	runs          []db.PipelineRun
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
	daemonActive  bool
}

func NewDashboard(dbClient *db.Client, logPath string) Dashboard {
	if logPath == "" {
		logPath = "rentwatch.log"
	}
	return Dashboard{
		db:          dbClient,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		stats, _ := d.db.GetSiteStats()
		runs, _ := d.db.GetRecentRuns(10)
		return dashboardDataMsg{stats, runs}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, isDaemonActive()}
	}
}

func isDaemonActive() bool {
	out, err := exec.Command("systemctl", "is-active", "rentwatch").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}
	return lines, info.ModTime()
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.stats = msg.stats
		d.runs = msg.runs
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height - 4
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Dashboard"),
		d.renderStatCards(),
		"",
		d.renderSiteCards(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d Dashboard) renderStatCards() string {
	last := "-"
	fresh, notified, applied := 0, 0, 0
	if len(d.runs) > 0 {
		r := d.runs[0]
		last = relativeTime(r.StartedAt)
		_, fresh, _, notified = r.Totals()
		applied = r.AppsDone
	}
	listings := 0
	for _, s := range d.stats {
		listings += s.Listings
	}
	cards := []string{
		d.renderStatCard("Last run", last),
		d.renderStatCard("New", fmt.Sprintf("%d", fresh)),
		d.renderStatCard("Notified", fmt.Sprintf("%d", notified)),
		d.renderStatCard("Applied", fmt.Sprintf("%d", applied)),
		d.renderStatCard("Listings", fmt.Sprintf("%d", listings)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(16).Render(content)
}

func (d Dashboard) renderSiteCards() string {
	if len(d.stats) == 0 {
		return styles.Muted.Render("No listings stored yet")
	}

	// Crawl errors come from the newest run that mentions the site.
	lastErr := map[string]string{}
	if len(d.runs) > 0 {
		for _, s := range d.runs[0].Sites {
			lastErr[s.SiteID] = s.CrawlError
		}
	}

	var cards []string
	for _, s := range d.stats {
		status := styles.StatusSuccess.Render("✓ ok")
		if msg, ok := lastErr[s.SiteID]; ok && msg != "" {
			status = styles.StatusError.Render("✗ " + truncate(msg, 18))
		}
		seen := "never"
		if s.LastSeenAt != nil {
			seen = relativeTime(*s.LastSeenAt)
		}
		content := lipgloss.JoinVertical(lipgloss.Left,
			styles.StatValue.Render(truncate(s.SiteID, 20)),
			status,
			styles.StatLabel.Render(fmt.Sprintf("Listings: %d", s.Listings)),
			styles.StatLabel.Render(fmt.Sprintf("Seen: %s", seen)),
		)
		cards = append(cards, styles.SiteCardBorder.Width(24).Render(content))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-10s %-10s %-5s %7s %5s %7s %8s %5s %5s %5s",
		"Started", "Status", "Debug", "Crawled", "New", "Actions", "Notified", "Done", "Fail", "Skip")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		statusStyle := styles.StatusPending
		switch r.Status {
		case "completed":
			statusStyle = styles.StatusSuccess
		case "failed":
			statusStyle = styles.StatusError
		}
		debug := ""
		if r.Debug {
			debug = "yes"
		}
		crawled, fresh, actions, notified := r.Totals()
		rows += fmt.Sprintf("%-10s %s %-5s %7d %5d %7d %8d %5d %5d %5d\n",
			r.StartedAt.Local().Format("01-02 15:04"),
			statusStyle.Render(fmt.Sprintf("%-10s", r.Status)),
			debug, crawled, fresh, actions, notified,
			r.AppsDone, r.AppsFailed, r.AppsSkipped,
		)
		if r.LoginError != "" {
			rows += styles.StatusError.Render("  login: "+truncate(r.LoginError, d.width-12)) + "\n"
		}
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	if len(d.logLines) == 0 {
		return styles.LogBox.Width(d.width - 4).Render(styles.Muted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	end := total - d.logScroll
	start := max(end-d.logViewport, 0)

	var lines []string
	for _, line := range d.logLines[start:end] {
		lines = append(lines, styleLogLine(truncate(line, d.width-8)))
	}

	var state string
	switch {
	case !d.daemonActive:
		state = styles.StatusError.Render(" ● STOPPED ")
	case d.logScroll > 0:
		state = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	default:
		state = styles.StatusSuccess.Render(" ● LIVE ")
	}

	header := styles.Title.Render("Daemon Log") + state +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", start+1, end, total))
	return styles.LogBox.Width(d.width - 4).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours logrus text output by its level= field.
func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "level=error"), strings.Contains(line, "level=fatal"):
		return styles.StatusError.Render(line)
	case strings.Contains(line, "level=warn"):
		return styles.StatusPending.Render(line)
	case strings.Contains(line, "level=debug"):
		return styles.Muted.Render(line)
	}
	return styles.LogInfo.Render(line)
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
