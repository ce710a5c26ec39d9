package main

import (
	"fmt"
	"os"

	"github.com/cuemby/entitycore/pkg/log"
	"github.com/spf13/cobra"
)

// Version info, set via -ldflags at build time, mirroring the rest of
// the toolchain this CLI was cut from.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "entitycore",
	Short: "Operator CLI for the entitycore durable entity store",
	Long: `entitycore drives a durable entity store directly: signal and call
entities, acquire and release critical sections, list and clean up
entity storage, or run the store as a long-lived server.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON instead of console-formatted text")
	rootCmd.PersistentFlags().String("data-dir", "", "entity store data directory (overrides --config)")
	rootCmd.PersistentFlags().String("config", "", "path to an entitycore config file (YAML)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(cleanCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
		Output:     os.Stderr,
	})
}

func resolveConfig(cmd *cobra.Command) (EngineConfig, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return cfg, err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
