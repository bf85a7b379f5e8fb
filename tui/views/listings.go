package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const listingPageSize = 100

type sitesMsg struct {
	sites []string
}

type listingsMsg struct {
	listings []db.Listing
	total    int
}

type attemptsMsg struct {
	url      string
	attempts []db.Attempt
}

// Listings browses one site's stored listings, newest first, with the
// application attempts of the selected one.
type Listings struct {
	db            *db.Client
	width, height int
	sites         []string
	siteIndex     int
	listings      []db.Listing
	total         int
	page          int
	selected      int
	attempts      []db.Attempt
}

func NewListings(dbClient *db.Client) Listings {
	return Listings{db: dbClient}
}

func (l Listings) Init() tea.Cmd {
	return l.Refresh()
}

func (l Listings) Refresh() tea.Cmd {
	return func() tea.Msg {
		stats, _ := l.db.GetSiteStats()
		sites := make([]string, 0, len(stats))
		for _, s := range stats {
			sites = append(sites, s.SiteID)
		}
		return sitesMsg{sites}
	}
}

func (l Listings) loadListings() tea.Cmd {
	if len(l.sites) == 0 {
		return nil
	}
	site, page := l.sites[l.siteIndex], l.page
	return func() tea.Msg {
		listings, _ := l.db.GetListings(site, listingPageSize, page*listingPageSize)
		total, _ := l.db.GetListingCount(site)
		return listingsMsg{listings, total}
	}
}

func (l Listings) loadAttempts() tea.Cmd {
	if len(l.listings) == 0 {
		return nil
	}
	sel := l.listings[l.selected]
	return func() tea.Msg {
		attempts, _ := l.db.GetAttempts(sel.SiteID, sel.URL)
		return attemptsMsg{sel.URL, attempts}
	}
}

// SelectedURL is the URL of the highlighted listing, or "".
func (l Listings) SelectedURL() string {
	if l.selected < len(l.listings) {
		return l.listings[l.selected].URL
	}
	return ""
}

func (l Listings) SetSize(w, h int) Listings {
	l.width = w
	l.height = h
	return l
}

func (l Listings) totalPages() int {
	return max((l.total+listingPageSize-1)/listingPageSize, 1)
}

func (l Listings) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sitesMsg:
		l.sites = msg.sites
		if l.siteIndex >= len(l.sites) {
			l.siteIndex = 0
		}
		return l, l.loadListings()

	case listingsMsg:
		l.listings = msg.listings
		l.total = msg.total
		if l.selected >= len(l.listings) {
			l.selected = 0
		}
		l.attempts = nil
		return l, l.loadAttempts()

	case attemptsMsg:
		if msg.url == l.SelectedURL() {
			l.attempts = msg.attempts
		}

	case tea.WindowSizeMsg:
		l.width = msg.Width
		l.height = msg.Height - 4

	case tea.KeyMsg:
		prev := l.selected
		switch msg.String() {
		case "left", "h":
			if l.siteIndex > 0 {
				l.siteIndex--
				l.page, l.selected = 0, 0
				return l, l.loadListings()
			}
		case "right", "l":
			if l.siteIndex < len(l.sites)-1 {
				l.siteIndex++
				l.page, l.selected = 0, 0
				return l, l.loadListings()
			}
		case "[":
			if l.page > 0 {
				l.page--
				l.selected = 0
				return l, l.loadListings()
			}
		case "]":
			if l.page < l.totalPages()-1 {
				l.page++
				l.selected = 0
				return l, l.loadListings()
			}
		case "up", "k":
			l.selected = max(l.selected-1, 0)
		case "down", "j":
			l.selected = max(min(l.selected+1, len(l.listings)-1), 0)
		case "pgup", "ctrl+u":
			l.selected = max(l.selected-10, 0)
		case "pgdown", "ctrl+d":
			l.selected = max(min(l.selected+10, len(l.listings)-1), 0)
		case "g", "home":
			l.selected = 0
		case "G", "end":
			l.selected = max(len(l.listings)-1, 0)
		}
		if l.selected != prev {
			l.attempts = nil
			return l, l.loadAttempts()
		}
	}
	return l, nil
}

func (l Listings) visibleRows() int {
	return max(l.height-14, 5)
}

func (l Listings) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Listings"),
		l.renderSites(),
		"",
		l.renderTable(),
		"",
		l.renderDetail(),
	)
}

func (l Listings) renderSites() string {
	if len(l.sites) == 0 {
		return styles.Muted.Render("No sites stored yet")
	}
	var parts []string
	for i, s := range l.sites {
		if i == l.siteIndex {
			parts = append(parts, styles.TabActive.Render("["+s+"]"))
		} else {
			parts = append(parts, styles.TabInactive.Render(s))
		}
	}
	pages := styles.Muted.Render(fmt.Sprintf("  page %d/%d ([/])", l.page+1, l.totalPages()))
	return "Site: " + strings.Join(parts, " ") + pages
}

func (l Listings) renderTable() string {
	if len(l.listings) == 0 {
		return styles.Muted.Render("No listings")
	}

	titleWidth := max(l.width-60, 20)
	header := fmt.Sprintf("%-*s %10s %8s %-20s %-11s", titleWidth, "Title", "Rent", "Area", "Agency", "First seen")
	out := styles.TableHeader.Render(header) + "\n"

	visible := l.visibleRows()
	start := 0
	if l.selected >= visible {
		start = l.selected - visible + 1
	}
	end := min(start+visible, len(l.listings))

	for i := start; i < end; i++ {
		item := l.listings[i]
		area := "-"
		if item.LivingArea != nil {
			area = fmt.Sprintf("%.0f m²", *item.LivingArea)
		}
		row := fmt.Sprintf("%-*s %10s %8s %-20s %-11s",
			titleWidth, truncate(item.Title, titleWidth),
			truncate(item.RentPrice, 10),
			area,
			truncate(item.AgencyName, 20),
			item.FirstSeenAt.Local().Format("01-02 15:04"),
		)
		if i == l.selected {
			row = styles.TableSelected.Render(row)
		}
		out += row + "\n"
	}
	return out
}

func (l Listings) renderDetail() string {
	if len(l.listings) == 0 {
		return ""
	}
	sel := l.listings[l.selected]
	lines := []string{
		styles.StatLabel.Render("URL:    ") + truncate(sel.URL, l.width-12),
		styles.StatLabel.Render("Agency: ") + sel.AgencyName + " " + styles.Muted.Render(sel.AgencyEmail),
	}
	if len(l.attempts) == 0 {
		lines = append(lines, styles.Muted.Render("No application attempts"))
	}
	for _, a := range l.attempts {
		stateStyle := styles.StatusPending
		switch a.State {
		case "done":
			stateStyle = styles.StatusSuccess
		case "failed", "login_failed":
			stateStyle = styles.StatusError
		}
		line := fmt.Sprintf("%s %s", a.CreatedAt.Local().Format("01-02 15:04"), stateStyle.Render(a.State))
		if a.FailedField != "" {
			line += " field=" + a.FailedField
		}
		if a.Error != "" {
			line += " " + styles.Muted.Render(truncate(a.Error, l.width-40))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
