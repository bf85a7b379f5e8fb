package main

import (
	"fmt"
	"os"
	"time"

	"tui/db"
	"tui/styles"
	"tui/views"

	"github.com/aymanbagabas/go-osc52/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
)

type tab int

const (
	tabDashboard tab = iota
	tabListings
	tabLogs
)

type model struct {
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard views.Dashboard
	listings  views.Listings
	logs      views.Logs
}

type tickMsg time.Time
type logTickMsg time.Time

func initialModel(dbClient *db.Client, logPath string) model {
	return model{
		activeTab: tabDashboard,
		dashboard: views.NewDashboard(dbClient, logPath),
		listings:  views.NewListings(dbClient),
		logs:      views.NewLogs(dbClient),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.listings.Init(),
		m.logs.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "p":
			m.activeTab = tabListings
			return m, nil
		case "o":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % 3
			return m, nil
		case "r":
			m.notification = "Refreshed"
			m.notifyUntil = time.Now().Add(2 * time.Second)
			return m, m.refreshActive()
		case "c":
			if m.activeTab == tabListings {
				if url := m.listings.SelectedURL(); url != "" {
					osc52.New(url).WriteTo(os.Stderr)
					m.notification = "URL copied"
					m.notifyUntil = time.Now().Add(2 * time.Second)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.listings = m.listings.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		cmds = append(cmds, m.refreshActive(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, m.dashboard.RefreshLog(), logTickCmd())
	}

	// Keys go to the active tab; data messages go everywhere.
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			next, cmd := m.dashboard.Update(msg)
			m.dashboard = next.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabListings:
			next, cmd := m.listings.Update(msg)
			m.listings = next.(views.Listings)
			cmds = append(cmds, cmd)
		case tabLogs:
			next, cmd := m.logs.Update(msg)
			m.logs = next.(views.Logs)
			cmds = append(cmds, cmd)
		}
	default:
		nextDash, cmd1 := m.dashboard.Update(msg)
		m.dashboard = nextDash.(views.Dashboard)
		nextListings, cmd2 := m.listings.Update(msg)
		m.listings = nextListings.(views.Listings)
		nextLogs, cmd3 := m.logs.Update(msg)
		m.logs = nextLogs.(views.Logs)
		cmds = append(cmds, cmd1, cmd2, cmd3)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabListings:
		return m.listings.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range []string{"Dashboard", "Listings", "Logs"} {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabListings:
		return m.listings.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  p Listings  o Logs  r Refresh  c Copy URL  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func main() {
	_ = godotenv.Load()

	driver := os.Getenv("STORE_DRIVER")
	dsn := os.Getenv("DATABASE_URL")
	if driver == "postgres" {
		if dsn == "" {
			fmt.Fprintf(os.Stderr, "Error: DATABASE_URL is required when STORE_DRIVER=postgres\n")
			os.Exit(1)
		}
	} else {
		driver = "sqlite"
		dsn = os.Getenv("DB_PATH")
		if dsn == "" {
			dsn = "rentwatch.db"
		}
	}

	logPath := os.Getenv("LOG_PATH")
	if logPath == "" {
		logPath = "rentwatch.log"
	}

	dbClient, err := db.New(driver, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	p := tea.NewProgram(initialModel(dbClient, logPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
