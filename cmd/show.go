package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/store"
)

var showCmd = &cobra.Command{
	Use:     "show <kind> <id>",
	Short:   "Show a locally stored entity",
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

		entity, err := st.GetEntity(kind, args[1])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				output.Error("no local %s with id %s", kind, args[1])
			} else {
				output.Error("%v", err)
			}
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(entity)
		}

		fmt.Println(output.FormatEntityShort(entity))

		if pending, err := st.PendingForEntity(kind, args[1]); err == nil && pending {
			output.Warning("has queued changes not yet synced")
		}

		var pretty json.RawMessage = entity.Data
		fmt.Println()
		if err := output.JSON(pretty); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	addJSONFlag(showCmd.Flags())
}
