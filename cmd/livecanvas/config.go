package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recera/livecanvas/internal/config"
)

func newConfigCommand() *cobra.Command {
	var format, write string
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after defaults and LIVECANVAS_* environment
overrides are applied. Use --write to save it as a starting point.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if !defaults {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if write != "" {
				if err := config.Save(cfg, write); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", write)
				return nil
			}

			data, err := config.Marshal(cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, toml or json")
	cmd.Flags().StringVarP(&write, "write", "w", "", "Write to this file instead of printing")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Ignore the config file and environment")

	return cmd
}
