package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"recallai/internal/config"
)

func newHotkeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotkey",
		Short: "Show or change the global hotkeys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			printHotkeys(cmd, cfg)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set {session|dismiss} COMBO",
		Short: "Change a hotkey, e.g. `hotkey set session ctrl+shift+space`",
		Long: `Change a hotkey and save it to the config file.

Modifiers: ` + joinModifiers() + `
The running tray application picks the change up on next start.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"session", "dismiss"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hk, ok := config.ParseHotkey(args[1])
			if !ok {
				return fmt.Errorf("invalid hotkey %q: expected modifiers and a key, e.g. ctrl+shift+space", args[1])
			}

			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			switch args[0] {
			case "session":
				err = cfg.SetSessionHotkey(hk)
			case "dismiss":
				err = cfg.SetDismissHotkey(hk)
			default:
				return fmt.Errorf("unknown hotkey %q: use session or dismiss", args[0])
			}
			if err != nil {
				return fmt.Errorf("save hotkey: %w", err)
			}

			printHotkeys(cmd, cfg)
			return nil
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func printHotkeys(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session: %s\n", cfg.SessionHotkey())
	fmt.Fprintf(out, "dismiss: %s\n", cfg.DismissHotkey())
}

func joinModifiers() string {
	mods := config.AvailableModifiers()
	parts := make([]string, len(mods))
	for i, m := range mods {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
