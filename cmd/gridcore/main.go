package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/gridcore/pkg/config"
	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootCmd carries no process-level flag beyond the config path: the
// core engine takes its configuration as a typed struct
// (pkg/config.Config), this CLI is a thin embedding example, not part
// of the core's contract.
var rootCmd = &cobra.Command{
	Use:     "gridcore",
	Short:   "gridcore - embedded distributed page-store engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gridcore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults applied if omitted)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a gridcore node until interrupted",
	RunE:  runServe,
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSONOutput})

	engine, err := gridcore.New(cfg.ToEngineOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return engine.Shutdown()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("gridcore version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}
