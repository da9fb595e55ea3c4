package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3u-dvr/internal/version"
	"github.com/m3u-dvr/pkg/logger"
)

var (
	flagConfigPath string
	isDev          bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file to load (default $CONFIG_PATH or config/config.yaml)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		isDev = os.Getenv("ENV") != "production"
		logger.Init(isDev)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		logger.Sync()
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "m3u-dvr",
	Short:        "IPTV recording and restream manager",
	SilenceUsage: true,
	// Running without a subcommand serves, as the container entrypoint does.
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the banner and build info",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintBanner(cmd.OutOrStdout())
		version.PrintDetails(cmd.OutOrStdout())
	},
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func applyLogLevel(name string) {
	if name == "" {
		return
	}
	if err := logger.SetLevel(name); err != nil {
		logger.Warnf("⚠️ %v", err)
	}
}
