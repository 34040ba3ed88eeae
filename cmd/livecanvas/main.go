package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/recera/livecanvas/internal/config"
	"github.com/recera/livecanvas/internal/logging"
)

var (
	version = "0.1.0-preview"
	commit  = "dev"
	date    = "unknown"
)

// configPath is the persistent --config flag.
var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "livecanvas",
		Short: "livecanvas - shared cursors, chat and reactions",
		Long: `livecanvas runs a presence hub and a terminal client in which every
participant sees the others' cursors, live chat messages and reaction trails.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (.yaml, .toml or .json; defaults to "+config.DefaultFile+")")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newJoinCommand())
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}

// setup loads the configuration and builds the logger. logOut is used
// when the config names no log file.
func setup(logOut io.Writer) (*config.Loader, *config.Config, *logging.Logger, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, nil, nil, err
	}
	return loader, cfg, logger, nil
}
