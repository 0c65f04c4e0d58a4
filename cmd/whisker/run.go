package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whisker-if/whisker/internal/config"
	"github.com/whisker-if/whisker/internal/manifest"
	"github.com/whisker-if/whisker/internal/sandbox"
	"github.com/whisker-if/whisker/internal/security"
)

var (
	runPluginID string
	runCaps     []string
	runYes      bool
)

var runCmd = &cobra.Command{
	Use:   "run <script.lua | plugin-dir>",
	Short: "Execute a plugin in the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlugin,
}

func init() {
	runCmd.Flags().StringVar(&runPluginID, "plugin-id", "", "plugin id (default: script basename)")
	runCmd.Flags().StringSliceVar(&runCaps, "cap", nil, "declared capabilities when running a bare script")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "grant all prompted capabilities without asking")
}

func runPlugin(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	registry := security.NewRegistry()
	target := args[0]
	pluginID := runPluginID
	var scriptPath string
	var caps []security.CapabilityID

	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		m, err := manifest.LoadFromDir(target, registry)
		if err != nil {
			return err
		}
		scriptPath = m.MainPath()
		caps = m.Capabilities
		if pluginID == "" {
			pluginID = m.Name
		}
	} else {
		scriptPath = target
		for _, c := range runCaps {
			caps = append(caps, security.CapabilityID(c))
		}
		if err := registry.Validate(caps); err != nil {
			return err
		}
		if pluginID == "" {
			pluginID = strings.TrimSuffix(filepath.Base(target), ".lua")
		}
	}

	code, err := os.ReadFile(scriptPath)
	if err != nil {
		return err
	}

	kernel := kernelFor(cfg, pluginID)
	defer kernel.Shutdown() //nolint:errcheck // leak detection is audited

	if !cfg.IsTrusted(pluginID) {
		if runYes {
			kernel.Manager.SetUIHandler(grantAllHandler)
		} else {
			kernel.Manager.SetUIHandler(terminalPrompt)
		}

		_, denied := kernel.Manager.RequestSync(pluginID, caps)
		if len(denied) > 0 {
			fmt.Fprintf(os.Stderr, "denied capabilities: %v\n", denied)
		}
	}

	rt := sandbox.NewRuntime(kernel)
	res := rt.Execute(string(code), pluginID, sandbox.Options{
		Timeout:        cfg.Timeout(),
		AllowedModules: cfg.AllowedModules,
		Capabilities:   caps,
		Storage:        sandbox.NewMemoryStorage(),
	})

	if !res.OK {
		return fmt.Errorf("plugin %s failed: %s", pluginID, res.Err)
	}
	if res.Value != nil {
		fmt.Println(res.Value)
	}
	return nil
}

// terminalPrompt is the reference UI handler: one y/n question per
// capability on stdin, highest risk first.
func terminalPrompt(pluginID string, prompts []security.Prompt, decide func(map[security.CapabilityID]bool)) {
	reader := bufio.NewReader(os.Stdin)
	decisions := make(map[security.CapabilityID]bool, len(prompts))

	fmt.Printf("Plugin %q requests permissions:\n", pluginID)
	for _, p := range prompts {
		fmt.Printf("\n[%s] %s\n%s\n", strings.ToUpper(p.Risk.String()), p.Name, p.Text)
		for _, w := range p.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		fmt.Print("Allow? [y/N] ")
		line, err := reader.ReadString('\n')
		answer := strings.TrimSpace(strings.ToLower(line))
		decisions[p.Capability] = err == nil && (answer == "y" || answer == "yes")
	}
	decide(decisions)
}

// grantAllHandler approves every prompt. Used with --yes.
func grantAllHandler(_ string, prompts []security.Prompt, decide func(map[security.CapabilityID]bool)) {
	decisions := make(map[security.CapabilityID]bool, len(prompts))
	for _, p := range prompts {
		decisions[p.Capability] = true
	}
	decide(decisions)
}
