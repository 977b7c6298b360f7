package cmd

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/devserver"
	"github.com/michaelayoade/fieldsync/internal/output"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run a local development sync server",
	Long: `Runs an in-memory sync server implementing the entity endpoints and the
websocket update feed. State is not persisted; restart starts empty.

Reads an optional .env file for FIELDSYNC_* overrides.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; ignore absence.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			output.Warning("could not load .env: %v", err)
		}

		addr, _ := cmd.Flags().GetString("addr")
		if env := os.Getenv("FIELDSYNC_SERVE_ADDR"); env != "" && !cmd.Flags().Changed("addr") {
			addr = env
		}

		logger := slog.Default()
		srv := devserver.New(logger)
		srv.Run()
		defer srv.Stop()

		httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			httpSrv.Close()
		}()

		output.Info("fieldsync dev server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			output.Error("%v", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Listen address")
}
