package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/RyanLisse/vibex-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			holder, err := loadHolder()
			if err != nil {
				return err
			}

			cfg := *holder.Config()
			if cfg.Remote.Token != "" {
				cfg.Remote.Token = "(redacted)"
			}

			if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath()

			if err := config.WriteDefault(path); err != nil {
				return err
			}

			statusf(flagQuiet, "Wrote %s\n", path)

			return nil
		},
	}
}
