package styles

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor   = lipgloss.Color("#0EA5E9")
	SecondaryColor = lipgloss.Color("#F97316")
	SuccessColor   = lipgloss.Color("#22C55E")
	WarningColor   = lipgloss.Color("#EAB308")
	ErrorColor     = lipgloss.Color("#EF4444")
	MutedColor     = lipgloss.Color("#6B7280")
	TextColor      = lipgloss.Color("#F9FAFB")

	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	TabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 2)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		Padding(0, 1)

	StatusBar = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	CardBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	SiteCardBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(SecondaryColor).
			Padding(0, 1)

	LogBox = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		Padding(0, 1)

	StatValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor)

	StatLabel = lipgloss.NewStyle().
			Foreground(MutedColor)

	StatusSuccess = lipgloss.NewStyle().Foreground(SuccessColor)
	StatusError   = lipgloss.NewStyle().Foreground(ErrorColor)
	StatusPending = lipgloss.NewStyle().Foreground(WarningColor)

	LogTimestamp = lipgloss.NewStyle().Foreground(MutedColor)
	LogInfo      = lipgloss.NewStyle().Foreground(TextColor)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	TableSelected = lipgloss.NewStyle().
			Background(PrimaryColor).
			Foreground(TextColor)

	Notification = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Padding(0, 1)
)
