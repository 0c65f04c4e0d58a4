package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/whisker-if/whisker/internal/security"
)

var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Inspect and edit the permission ledger",
}

var permsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded permission decisions",
	RunE: func(_ *cobra.Command, _ []string) error {
		_, kernel, err := buildKernel()
		if err != nil {
			return err
		}
		defer kernel.Shutdown() //nolint:errcheck

		plugins := kernel.Store.Plugins()
		sort.Strings(plugins)
		for _, pluginID := range plugins {
			fmt.Println(pluginID)
			records := kernel.Store.Records(pluginID)
			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, string(id))
			}
			sort.Strings(ids)
			for _, id := range ids {
				rec := records[security.CapabilityID(id)]
				fmt.Printf("  %-14s %-8s %s\n", id, rec.State, rec.Timestamp.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

var permsGrantCmd = &cobra.Command{
	Use:   "grant <plugin> <capability>",
	Short: "Grant a capability",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return editPermission(args, func(k *security.Kernel, plugin string, cap security.CapabilityID) error {
			return k.Manager.Grant(plugin, cap, map[string]any{"source": "cli"})
		})
	},
}

var permsDenyCmd = &cobra.Command{
	Use:   "deny <plugin> <capability>",
	Short: "Deny a capability",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return editPermission(args, func(k *security.Kernel, plugin string, cap security.CapabilityID) error {
			return k.Manager.Deny(plugin, cap, map[string]any{"source": "cli"})
		})
	},
}

var permsRevokeCmd = &cobra.Command{
	Use:   "revoke <plugin> <capability>",
	Short: "Revoke a previously granted capability",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return editPermission(args, func(k *security.Kernel, plugin string, cap security.CapabilityID) error {
			return k.Manager.Revoke(plugin, cap, map[string]any{"source": "cli"})
		})
	},
}

var permsResetCmd = &cobra.Command{
	Use:   "reset <plugin> [capability]",
	Short: "Reset decisions back to pending",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		_, kernel, err := buildKernel()
		if err != nil {
			return err
		}
		defer kernel.Shutdown() //nolint:errcheck

		var cap security.CapabilityID
		if len(args) == 2 {
			cap = security.CapabilityID(args[1])
		}
		return kernel.Manager.Reset(args[0], cap)
	},
}

func editPermission(args []string, edit func(*security.Kernel, string, security.CapabilityID) error) error {
	_, kernel, err := buildKernel()
	if err != nil {
		return err
	}
	defer kernel.Shutdown() //nolint:errcheck
	return edit(kernel, args[0], security.CapabilityID(args[1]))
}

func init() {
	permsCmd.AddCommand(permsListCmd)
	permsCmd.AddCommand(permsGrantCmd)
	permsCmd.AddCommand(permsDenyCmd)
	permsCmd.AddCommand(permsRevokeCmd)
	permsCmd.AddCommand(permsResetCmd)
}
