package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/whisker-if/whisker/internal/config"
	"github.com/whisker-if/whisker/internal/security"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "whisker",
	Short: "Sandboxed plugin runner for whisker stories",
	Long: `Whisker runs third-party story plugins inside a restricted Lua sandbox.
Plugins declare capabilities in their manifest; nothing touches story
state, the network, or the filesystem without an explicit user grant.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "whisker.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "stream audit events to stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(permsCmd)
}

// buildKernel loads the config and wires a security kernel over the
// file-backed permission ledger.
func buildKernel() (config.Config, *security.Kernel, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, kernelFor(cfg, ""), nil
}

// kernelFor wires a kernel for one plugin. A plugin in the config's
// trusted_plugins list gets a trusted-host kernel: declaration checks
// still apply, user grants do not.
func kernelFor(cfg config.Config, pluginID string) *security.Kernel {
	var sink io.Writer
	if verbose {
		sink = os.Stderr
	}

	opts := []security.KernelOption{
		security.WithStoreBackend(&security.FileBackend{Path: cfg.StorePath}),
		security.WithAuditRetention(cfg.AuditRetention),
	}
	if sink != nil {
		opts = append(opts, security.WithAuditSink(sink))
	}
	if pluginID != "" && cfg.IsTrusted(pluginID) {
		opts = append(opts, security.WithTrustedHost())
	}
	return security.NewKernel(opts...)
}
