package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/tracker"
)

var createCmd = &cobra.Command{
	Use:     "create <kind>",
	Short:   "Create an entity locally and queue it for sync",
	Long: `Applies a create immediately to the local store and queues it for the
server. Works offline; the operation syncs when connectivity returns.

Kinds: work_order, customer, inventory, location`,
	Example: `  fieldsync create work_order --data '{"title":"Install ONT","status":"open"}'
  cat customer.json | fieldsync create customer --data -`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
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

		opID, entityID, err := tracker.New(st).Create(kind, data)
		if err != nil {
			output.Error("create failed: %v", err)
			return err
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			return output.JSON(map[string]string{"id": entityID, "op_id": opID})
		}

		output.Success("Created %s %s (queued %s)", kind, entityID, opID)
		return nil
	},
}

// parseKind validates an entity kind argument
func parseKind(arg string) (models.EntityKind, error) {
	kind := models.EntityKind(arg)
	if !models.ValidKind(kind) {
		return "", fmt.Errorf("unknown entity kind %q (valid: %s)", arg, strings.Join(kindNames(), ", "))
	}
	return kind, nil
}

func kindNames() []string {
	names := make([]string, len(models.KnownKinds))
	for i, k := range models.KnownKinds {
		names[i] = string(k)
	}
	return names
}

// readData resolves the --data flag; "-" reads from stdin
func readData(cmd *cobra.Command) (json.RawMessage, error) {
	raw, _ := cmd.Flags().GetString("data")
	if raw == "" {
		return nil, fmt.Errorf("--data is required")
	}
	if raw == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(b)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().String("data", "", "Entity payload as JSON ('-' for stdin)")
	addJSONFlag(createCmd.Flags())
}
