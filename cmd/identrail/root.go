package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/identrail/identrail/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "identrail",
	Short:         "Identrail inventories non-human identities and their risk.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
			Command: cmd.CommandPath(),
			Writer:  os.Stderr,
		})
		return err
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(workerCmd, migrateCmd, enclavesCmd, connectorsCmd, jobsCmd, ingestCmd)
}
