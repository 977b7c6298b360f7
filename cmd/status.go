package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show queued, conflicted, and failed operations",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		pending, err := st.ListPending()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		conflicts, err := st.ListConflicts()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		failed, err := st.ListFailed()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(map[string]interface{}{
				"pending":   pending,
				"conflicts": conflicts,
				"failed":    failed,
			})
		}

		fmt.Printf("Pending: %d  Conflicts: %d  Failed: %d\n",
			len(pending), len(conflicts), len(failed))

		if len(pending) > 0 {
			fmt.Print(output.SectionHeader("pending"))
			for _, op := range pending {
				fmt.Println("  " + output.FormatOperationShort(&op))
			}
		}
		if len(conflicts) > 0 {
			fmt.Print(output.SectionHeader("conflicts"))
			for _, op := range conflicts {
				fmt.Println("  " + output.FormatOperationShort(&op))
			}
		}
		if len(failed) > 0 {
			fmt.Print(output.SectionHeader("failed"))
			for _, op := range failed {
				fmt.Println("  " + output.FormatOperationShort(&op))
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addJSONFlag(statusCmd.Flags())
}
