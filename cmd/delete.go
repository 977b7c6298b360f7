package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/tracker"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <kind> <id>",
	Short:   "Delete an entity locally and queue the delete for sync",
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		opID, err := tracker.New(st).Delete(kind, args[1])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				output.Error("no local %s with id %s", kind, args[1])
			} else {
				output.Error("delete failed: %v", err)
			}
			return err
		}

		output.Success("Deleted %s %s (queued %s)", kind, args[1], opID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
