package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/tracker"
)

var updateCmd = &cobra.Command{
	Use:     "update <kind> <id>",
	Short:   "Update an entity locally and queue the change for sync",
	Example: `  fieldsync update work_order wo-1a2b3c4d --data '{"status":"closed"}'`,
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		data, err := readData(cmd)
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

		opID, err := tracker.New(st).Update(kind, args[1], data)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				output.Error("no local %s with id %s", kind, args[1])
			} else {
				output.Error("update failed: %v", err)
			}
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(map[string]string{"id": args[1], "op_id": opID})
		}

		output.Success("Updated %s %s (queued %s)", kind, args[1], opID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().String("data", "", "Entity payload as JSON ('-' for stdin)")
	addJSONFlag(updateCmd.Flags())
}
