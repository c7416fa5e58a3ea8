package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/storage/driver/factory"
	"github.com/reststorage/reststorage/version"
	"github.com/spf13/cobra"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(CleanupCmd)
	CleanupCmd.Flags().IntVarP(&cleanupAmount, "amount", "a", 0, "maximum number of expired resources to remove (defaults to cleanup.resourcesamount)")
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// RootCmd is the main command for the 'reststorage' binary.
var RootCmd = &cobra.Command{
	Use:   "reststorage",
	Short: "`reststorage`",
	Long:  "`reststorage` serves a hierarchical document store over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

var cleanupAmount int

// CleanupCmd is the cobra command that corresponds to the cleanup subcommand
var CleanupCmd = &cobra.Command{
	Use:   "cleanup <config>",
	Short: "`cleanup` removes expired resources",
	Long:  "`cleanup` removes expired resources from the configured storage and prints how many were removed.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx := dcontext.WithVersion(dcontext.Background(), version.Version())
		ctx, err = configureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s", err)
			os.Exit(1)
		}

		storage, err := factory.Create(ctx, config.Storage.Type(), config.Storage.Parameters())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to construct %s driver: %v", config.Storage.Type(), err)
			os.Exit(1)
		}

		amount := cleanupAmount
		if amount <= 0 {
			amount = config.Cleanup.ResourcesAmount
		}

		result, err := storage.Cleanup(ctx, amount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to clean up: %v", err)
			os.Exit(1)
		}

		// nolint:errcheck
		json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	},
}
