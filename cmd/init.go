package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncconfig"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local fieldsync store",
	Long:    `Creates the local .fieldsync directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".fieldsync")); err == nil {
			output.Warning(".fieldsync/ already exists")
			return nil
		}

		st, err := store.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize store: %v", err)
			return err
		}
		defer st.Close()

		fmt.Println("INITIALIZED .fieldsync/")

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			output.Error("failed to create device id: %v", err)
			return err
		}
		fmt.Printf("Device: %s\n", deviceID)

		addToGitignore(filepath.Join(baseDir, ".gitignore"))

		return nil
	},
}

func addToGitignore(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		// No .gitignore means we're probably not in a repo; don't create one.
		return
	}
	contentStr := string(content)

	if strings.Contains(contentStr, ".fieldsync/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(contentStr) > 0 && !strings.HasSuffix(contentStr, "\n") {
		f.WriteString("\n")
	}

	f.WriteString(".fieldsync/\n")
	fmt.Println("Added .fieldsync/ to .gitignore")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
