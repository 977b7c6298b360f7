package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncconfig"
	"github.com/michaelayoade/fieldsync/internal/syncer"
	"github.com/michaelayoade/fieldsync/internal/transport"
)

var (
	version string
	baseDir string
	verbose bool
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync client for field operations data",
	Long: `fieldsync - An offline-first client for field operations data (work orders,
customers, inventory, locations).

Changes apply locally and immediately, queue while offline, and reconcile with
the server when connectivity returns. Conflicts are kept for explicit
resolution (server wins, client wins, or merge).`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initBaseDir, initLogging)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Entity Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

func initBaseDir() {
	if dir := os.Getenv("FIELDSYNC_DIR"); dir != "" {
		baseDir = dir
		return
	}
	var err error
	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
}

func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// getBaseDir returns the base directory for the local store
func getBaseDir() string {
	return baseDir
}

// addJSONFlag registers the shared --json output flag.
func addJSONFlag(fs *pflag.FlagSet) {
	fs.Bool("json", false, "Output JSON")
}

// openStore opens the local store in the base directory
func openStore() (*store.Store, error) {
	return store.Open(getBaseDir())
}

// buildManager wires the transport stack and sync manager for the configured
// server. The returned cleanup stops the connectivity probe; the manager
// itself is shut down with Disconnect.
func buildManager(st *store.Store) (*syncer.Manager, func(), error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, nil, fmt.Errorf("get device id: %w", err)
	}

	serverURL := syncconfig.GetServerURL()
	rest := transport.NewClient(serverURL, syncconfig.GetAPIKey(), deviceID, syncconfig.GetSendTimeout())
	channel := transport.NewChannel(rest, syncconfig.WebSocketURL(serverURL), syncconfig.GetSendTimeout())

	probe := transport.NewProbe(rest, 15*time.Second)
	probe.Start()

	mgr := syncer.New(st, channel, probe, syncer.Config{
		Interval:       syncconfig.GetSyncInterval(),
		ConnectTimeout: syncconfig.GetConnectTimeout(),
	})

	return mgr, probe.Stop, nil
}
