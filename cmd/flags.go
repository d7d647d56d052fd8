package cmd

import "github.com/spf13/cobra"

// AttachCLIFlags attaches command line flags to command
func AttachCLIFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("port", "p", "", "http port to listen on")
	rootCmd.PersistentFlags().String("log-file", "", "directory of the log file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().Bool("migrate", true, "apply the database schema on startup")
}
