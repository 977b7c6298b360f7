package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Calculate panel heights (3 panels + footer)
	availableHeight := m.Height - 3
	panelHeight := availableHeight / 3

	status := m.renderStatusPanel(panelHeight)
	queue := m.renderQueuePanel(panelHeight)
	conflicts := m.renderConflictsPanel(panelHeight)

	panels := lipgloss.JoinVertical(lipgloss.Left,
		status,
		queue,
		conflicts,
	)

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("fieldsync monitor (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("Channel: %s", m.Status.ChannelState))
	if m.Status.Online {
		s.WriteString(" (online)\n")
	} else {
		s.WriteString(" (offline)\n")
	}
	s.WriteString(fmt.Sprintf("Pending: %d | Conflicts: %d | Failed: %d\n",
		m.Status.PendingCount,
		m.Status.ConflictCount,
		m.Status.FailedCount))

	s.WriteString("\nq:quit s:sync r:refresh ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderStatusPanel renders the sync status panel (Panel 1)
func (m Model) renderStatusPanel(height int) string {
	var content strings.Builder

	online := subtleStyle.Render("offline")
	if m.Status.Online {
		online = lipgloss.NewStyle().Foreground(successColor).Render("online")
	}

	content.WriteString(fmt.Sprintf("Channel: %s  Connectivity: %s\n",
		formatChannelState(m.Status.ChannelState), online))

	if m.Syncing {
		content.WriteString(fmt.Sprintf("%s syncing...\n", m.Spinner.View()))
	} else if m.Status.LastSyncAt.IsZero() {
		content.WriteString(subtleStyle.Render("No sync cycle completed yet"))
		content.WriteString("\n")
	} else {
		content.WriteString(fmt.Sprintf("Last sync: %s\n",
			timestampStyle.Render(m.Status.LastSyncAt.Format("15:04:05"))))
	}

	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Pending: %s  Conflicts: %s  Failed: %s\n",
		titleStyle.Render(fmt.Sprintf("%d", m.Status.PendingCount)),
		titleStyle.Render(fmt.Sprintf("%d", m.Status.ConflictCount)),
		titleStyle.Render(fmt.Sprintf("%d", m.Status.FailedCount))))

	return m.wrapPanel("SYNC STATUS", content.String(), height, PanelStatus)
}

// renderQueuePanel renders the pending and failed operations (Panel 2)
func (m Model) renderQueuePanel(height int) string {
	var content strings.Builder

	if len(m.Pending) == 0 && len(m.Failed) == 0 {
		content.WriteString(subtleStyle.Render("Queue empty"))
		content.WriteString("\n")
		return m.wrapPanel("QUEUE", content.String(), height, PanelQueue)
	}

	for _, op := range m.Pending {
		content.WriteString(m.formatOpLine(&op))
		content.WriteString("\n")
	}

	if len(m.Failed) > 0 {
		content.WriteString(sectionHeader.Render("FAILED:"))
		content.WriteString("\n")
		for _, op := range m.Failed {
			content.WriteString(m.formatOpLine(&op))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("QUEUE", content.String(), height, PanelQueue)
}

// renderConflictsPanel renders unresolved conflicts (Panel 3)
func (m Model) renderConflictsPanel(height int) string {
	var content strings.Builder

	if len(m.Conflicts) == 0 {
		content.WriteString(subtleStyle.Render("No conflicts"))
		content.WriteString("\n")
		return m.wrapPanel("CONFLICTS", content.String(), height, PanelConflicts)
	}

	for _, op := range m.Conflicts {
		content.WriteString(fmt.Sprintf("%s %s  local v%d vs server v%d\n",
			formatKind(op.EntityKind),
			titleStyle.Render(op.EntityID),
			op.BaseVersion,
			op.ServerVersion))
	}

	content.WriteString("\n")
	content.WriteString(subtleStyle.Render("Resolve with: fieldsync conflicts resolve <op-id>"))
	content.WriteString("\n")

	return m.wrapPanel("CONFLICTS", content.String(), height, PanelConflicts)
}

// formatOpLine renders a single queued operation
func (m Model) formatOpLine(op *models.Operation) string {
	line := fmt.Sprintf("%s %s %s  %s",
		formatKind(op.EntityKind),
		titleStyle.Render(op.EntityID),
		subtleStyle.Render(string(op.Kind)),
		formatOpStatus(op.Status))
	if op.RetryCount > 0 {
		line += subtleStyle.Render(fmt.Sprintf("  retries=%d", op.RetryCount))
	}
	return line
}

// wrapPanel wraps content in a panel border, scrolled and clipped to height
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	innerHeight := height - 3 // border and title
	if innerHeight < 1 {
		innerHeight = 1
	}

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	offset := m.ScrollOffset[panel]
	if offset > len(lines)-1 {
		offset = len(lines) - 1
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + innerHeight
	if end > len(lines) {
		end = len(lines)
	}
	visible := strings.Join(lines[offset:end], "\n")

	body := panelTitleStyle.Render(title) + "\n" + visible
	return style.Width(m.Width - 4).Render(body)
}

// renderFooter renders the key hints line
func (m Model) renderFooter() string {
	hints := "tab:panel  j/k:scroll  s:sync now  r:refresh  ?:help  q:quit"
	return helpStyle.Render(hints)
}

// renderHelp renders the help screen
func (m Model) renderHelp() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("fieldsync monitor"))
	s.WriteString("\n\n")
	s.WriteString("Panels:\n")
	s.WriteString("  1  sync status (channel, connectivity, counts)\n")
	s.WriteString("  2  queue (pending and failed operations)\n")
	s.WriteString("  3  conflicts awaiting resolution\n\n")
	s.WriteString("Keys:\n")
	s.WriteString("  tab / shift+tab  switch panel\n")
	s.WriteString("  1 / 2 / 3        jump to panel\n")
	s.WriteString("  j / k            scroll\n")
	s.WriteString("  s                trigger a sync cycle now\n")
	s.WriteString("  r                refresh data\n")
	s.WriteString("  ?                toggle this help\n")
	s.WriteString("  q                quit\n")

	return s.String()
}
