package cmd

import "github.com/spf13/cobra"

// Hooks for the external tests

func SetupLogging(cmd *cobra.Command, path, level string) error {
	logFile, logLevel = path, level
	return setupLogging(cmd)
}

func CloseLogging() error { return closeLogging() }
