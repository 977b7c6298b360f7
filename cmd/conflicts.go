package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncer"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List and resolve sync conflicts",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		conflicts, err := st.ListConflicts()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(conflicts)
		}

		if len(conflicts) == 0 {
			output.Info("No conflicts")
			return nil
		}

		for _, op := range conflicts {
			fmt.Println(output.FormatConflictLong(&op))
		}
		output.Info("Resolve with: fieldsync conflicts resolve <op-id> [--strategy ...]")
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <op-id>",
	Short: "Resolve one conflict",
	Long: `Resolves a conflicted operation. Strategies:

  server_wins  discard the local change and take the server state
  client_wins  re-queue the local change on top of the server version
  merge        combine both sides (per-kind merge rules apply)

With no --strategy and an interactive terminal, prompts for one.
--data supplies an explicit resolved payload, bypassing the merge rules.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		strategy, err := chooseStrategy(cmd, st, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var resolved []byte
		if raw, _ := cmd.Flags().GetString("data"); raw != "" {
			data, err := readData(cmd)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			resolved = data
		}

		mgr := syncer.NewLocal(st)
		res, err := mgr.ResolveConflict(args[0], strategy, resolved)
		if err != nil {
			if errors.Is(err, syncer.ErrNotConflicted) {
				output.Error("operation %s is not in conflict", args[0])
			} else {
				output.Error("resolve failed: %v", err)
			}
			return err
		}

		output.Success("Resolved %s with %s", args[0], res.Strategy)
		if res.Repushed {
			output.Info("Change re-queued; run 'fieldsync sync' to push it")
		}
		return nil
	},
}

var resolveAllCmd = &cobra.Command{
	Use:   "resolve-all",
	Short: "Resolve every conflict with one strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("strategy")
		strategy := models.Strategy(raw)
		if !models.ValidStrategy(strategy) {
			err := fmt.Errorf("unknown strategy %q", raw)
			output.Error("%v", err)
			return err
		}

		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		n, err := syncer.NewLocal(st).ResolveAll(strategy)
		if err != nil {
			output.Error("resolve-all: %v", err)
			return err
		}

		output.Success("Resolved %d conflict(s) with %s", n, strategy)
		return nil
	},
}

// chooseStrategy resolves the strategy from the flag, falling back to an
// interactive prompt on a TTY.
func chooseStrategy(cmd *cobra.Command, st *store.Store, opID string) (models.Strategy, error) {
	raw, _ := cmd.Flags().GetString("strategy")
	if raw != "" {
		strategy := models.Strategy(raw)
		if !models.ValidStrategy(strategy) {
			return "", fmt.Errorf("unknown strategy %q", raw)
		}
		return strategy, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--strategy is required when not running interactively")
	}

	if op, err := st.GetOperation(opID); err == nil {
		fmt.Println(output.FormatConflictLong(op))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Resolution strategy").
			Options(
				huh.NewOption("Server wins (discard local change)", string(models.StrategyServerWins)),
				huh.NewOption("Client wins (re-queue local change)", string(models.StrategyClientWins)),
				huh.NewOption("Merge (combine both sides)", string(models.StrategyMerge)),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return models.Strategy(choice), nil
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(resolveCmd)
	conflictsCmd.AddCommand(resolveAllCmd)

	addJSONFlag(conflictsCmd.Flags())
	resolveCmd.Flags().String("strategy", "", "server_wins, client_wins, or merge")
	resolveCmd.Flags().String("data", "", "Resolved payload as JSON ('-' for stdin)")
	resolveAllCmd.Flags().String("strategy", "", "server_wins, client_wins, or merge")
}
