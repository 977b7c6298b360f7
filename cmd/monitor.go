package cmd

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for sync activity",
	Long: `Launch a live-updating TUI dashboard showing:
- Sync status: channel state, connectivity, queue counts
- Queue: pending and failed operations
- Conflicts: operations awaiting resolution

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll
  s              Trigger a sync cycle now
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			err := fmt.Errorf("monitor requires an interactive terminal")
			output.Error("%v", err)
			return err
		}

		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		mgr, stopProbe, err := buildManager(st)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer stopProbe()

		if err := mgr.Initialize(cmd.Context()); err != nil {
			output.Warning("server unreachable, running in offline mode: %v", err)
		}
		defer mgr.Disconnect()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		model := monitor.NewModel(st, mgr, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
