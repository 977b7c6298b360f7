package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/transport"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	// Operation status styles
	opStatusStyles = map[models.OpStatus]lipgloss.Style{
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSyncing:  lipgloss.NewStyle().Foreground(warningColor),
		models.StatusSynced:   lipgloss.NewStyle().Foreground(successColor),
		models.StatusConflict: lipgloss.NewStyle().Foreground(errorColor),
		models.StatusFailed:   lipgloss.NewStyle().Foreground(mutedColor),
	}

	// Channel state styles
	channelStyles = map[transport.State]lipgloss.Style{
		transport.StateOpen:       lipgloss.NewStyle().Foreground(successColor),
		transport.StateConnecting: lipgloss.NewStyle().Foreground(warningColor),
		transport.StateClosing:    lipgloss.NewStyle().Foreground(mutedColor),
		transport.StateClosed:     lipgloss.NewStyle().Foreground(errorColor),
	}

	// Entity kind badge
	kindBadge = lipgloss.NewStyle().Foreground(secondaryColor)

	// Section headers
	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)
)

// formatOpStatus renders an operation status with color
func formatOpStatus(s models.OpStatus) string {
	style, ok := opStatusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatChannelState renders a channel state with color
func formatChannelState(s transport.State) string {
	style, ok := channelStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatKind renders an entity kind badge
func formatKind(k models.EntityKind) string {
	return kindBadge.Render("[" + string(k) + "]")
}
