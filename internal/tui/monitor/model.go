package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncer"
)

// Panel represents which panel is active
type Panel int

const (
	PanelStatus Panel = iota
	PanelQueue
	PanelConflicts
)

// Model is the main Bubble Tea model for the sync monitor TUI
type Model struct {
	Store   *store.Store
	Manager *syncer.Manager

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Status    syncer.Status
	Pending   []models.Operation
	Failed    []models.Operation
	Conflicts []models.Operation

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	Spinner      spinner.Model
	Syncing      bool
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Status    syncer.Status
	Pending   []models.Operation
	Failed    []models.Operation
	Conflicts []models.Operation
	Err       error
	Timestamp time.Time
}

// SyncDoneMsg reports the result of a manually triggered cycle
type SyncDoneMsg struct {
	Result syncer.CycleResult
}

// NewModel creates a new monitor model
func NewModel(st *store.Store, mgr *syncer.Manager, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		Store:           st,
		Manager:         mgr,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelStatus,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Status = msg.Status
		m.Pending = msg.Pending
		m.Failed = msg.Failed
		m.Conflicts = msg.Conflicts
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil

	case SyncDoneMsg:
		m.Syncing = false
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelStatus
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelConflicts
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "s":
		if m.Syncing {
			return m, nil
		}
		m.Syncing = true
		return m, m.runSync()

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.Store, m.Manager)
	}
}

// runSync triggers an immediate sync cycle
func (m Model) runSync() tea.Cmd {
	mgr := m.Manager
	return func() tea.Msg {
		res := mgr.SyncNow(context.Background())
		return SyncDoneMsg{Result: res}
	}
}
