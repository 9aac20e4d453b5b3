package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/heaterbridge/pkg/config"
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file. Without a path the configuration is
printed to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after defaults and environment overrides",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var (
	configInitMAC   string
	configInitForce bool
)

func init() {
	configInitCmd.Flags().StringVar(&configInitMAC, "mac", "", "Heater MAC address to put in the file")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if configInitMAC != "" && !config.ValidAddress(configInitMAC) {
		return fmt.Errorf("invalid --mac %q", configInitMAC)
	}
	cmd.SilenceUsage = true

	if len(args) == 0 {
		return config.WriteDefault(cmd.OutOrStdout(), configInitMAC)
	}

	path := args[0]
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if configInitForce {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return err
	}
	if err := config.WriteDefault(f, configInitMAC); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if cfg.Source != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.Source)
	}
	if err := cfg.Validate(); err != nil {
		msg := fmt.Errorf("%w: %w", ErrInvalidConfig, err).Error()
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", strings.ReplaceAll(msg, "\n", "\n# "))
	}
	return config.Write(cmd.OutOrStdout(), cfg)
}
