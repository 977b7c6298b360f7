package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list <kind>",
	Aliases: []string{"ls"},
	Short:   "List locally stored entities of a kind",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
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

		entities, err := st.ListEntities(kind)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(entities)
		}

		if len(entities) == 0 {
			output.Info("No %s entities", kind)
			return nil
		}

		for _, e := range entities {
			fmt.Println(output.FormatEntityShort(&e))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	addJSONFlag(listCmd.Flags())
}
