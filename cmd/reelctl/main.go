package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reelctl",
		Short:         "Operator tool for the ReelSpace provisioning service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(sheetsCmd())
	rootCmd.AddCommand(pruneLogsCmd())

	return rootCmd
}
