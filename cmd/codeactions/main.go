// Command codeactions requests and applies code actions from language
// servers configured in a settings file.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "codeactions",
	Short:         "Request and apply language server code actions",
	Long:          `codeactions asks the configured language servers for code actions on files and applies them.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	rootCmd.Version = version + " (" + commit + ")"

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(fixCmd)

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to settings file (.toml, .yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Duration("settle", 2*time.Second, "longest wait for a server to analyze an opened file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
