package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "btcoracle",
		Short: "Bitcoin bridge oracle",
		Long: "btcoracle watches the bridge contract, verifies Bitcoin deposits and " +
			"pays out burns from the bridge's Bitcoin address.",
		SilenceUsage: true,
	}

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(serveCmd(), fetchTxCmd(), verifyMessageCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "btcoracle %s\n", version)
		},
	}
}
