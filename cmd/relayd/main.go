package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokligence/chatrelay/internal/bootstrap"
	"github.com/tokligence/chatrelay/internal/version"
)

var (
	configRoot string
	initOpts   bootstrap.InitOptions
)

var rootCmd = &cobra.Command{
	Use:           "relayd",
	Short:         "relayd streams chat completions to clients as server-sent events",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configRoot)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configRoot)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold config/relay.yaml and .env.example",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := initOpts
		opts.Root = configRoot
		if err := bootstrap.Init(opts); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", bootstrap.ConfigPath(configRoot))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "root", ".", "directory holding .env and config/relay.yaml")
	initCmd.Flags().StringVar(&initOpts.Environment, "env", "", "environment name")
	initCmd.Flags().StringVar(&initOpts.Provider, "provider", "", "upstream provider: openai or loopback")
	initCmd.Flags().StringVar(&initOpts.BaseURL, "base-url", "", "upstream base URL")
	initCmd.Flags().StringVar(&initOpts.Model, "model", "", "upstream model")
	initCmd.Flags().StringVar(&initOpts.LedgerPath, "ledger-path", "", "sqlite ledger path")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "overwrite existing files")
	rootCmd.AddCommand(serveCmd, initCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}
