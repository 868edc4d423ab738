package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: backend=%s model=%s listen=%s\n",
			cfg.Engine.Backend, cfg.Engine.ModelPath, cfg.Addr())
		return nil
	},
}

func init() {
	defineFlags(checkConfigCmd)
}
