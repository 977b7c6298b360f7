package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Run one sync cycle against the server",
	Long: `Connects to the configured server, pushes the pending queue in order, and
reports the result. Conflicted operations stay queued for resolution with
'fieldsync conflicts'.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx := cmd.Context()
		if err := mgr.Initialize(ctx); err != nil {
			output.Warning("server unreachable: %v", err)
		}
		defer mgr.Disconnect()

		res := mgr.SyncNow(context.WithoutCancel(ctx))

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(res)
		}

		if res.Skipped {
			pending, cErr := st.CountPending()
			if cErr == nil && pending > 0 {
				output.Warning("offline: %d operation(s) still queued", pending)
			} else {
				output.Warning("offline: nothing synced")
			}
			return nil
		}
		if res.Attempted == 0 {
			output.Info("Nothing to sync")
			return nil
		}

		fmt.Printf("Synced %d/%d operation(s)\n", res.Synced, res.Attempted)
		if res.Retried > 0 {
			output.Warning("%d operation(s) will retry", res.Retried)
		}
		if res.Conflicts > 0 {
			output.Warning("%d conflict(s) need resolution (run: fieldsync conflicts)", res.Conflicts)
		}
		if res.Failed > 0 {
			output.Error("%d operation(s) failed permanently", res.Failed)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	addJSONFlag(syncCmd.Flags())
}
