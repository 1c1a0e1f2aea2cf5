package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/runlog"
	"github.com/jbweber/hutch/internal/workflow"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	scriptURL  string
	logFile    string
	assumeYes  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - VM provisioning workflow",
	Long: `Hutch provisions a set of local VMs through the multipass VM manager.

It bootstraps the snap package-manager stack first (waiting out the daemon's
first-run seeding), resolves the security posture for strict or devmode
installs, creates the configured instances with image-tier fallback, and runs
a remote setup script inside each one.

Run without arguments to execute the full workflow.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration overriding the built-in targets")
	rootCmd.PersistentFlags().StringVar(&scriptURL, "script-url", "", "URL of the remote setup script")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "run log path (default: per-process file under the temp dir)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "assume-yes", "y", false, "answer yes to all prompts")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(doctorCmd)
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run the full provisioning workflow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(cmd.Context())
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Print the VM manager diagnostic bundle",
	Long: `Print the diagnostics captured on create failures (manager version,
image catalog, connectivity probe) without provisioning anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context())
	},
}

// runProvision builds the configuration and runs the workflow. All fatal
// errors surface here exactly once, through the failure report.
func runProvision(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl, err := runlog.Open(cfg.LogFile)
	if err != nil {
		return err
	}
	defer rl.Close()

	w := &workflow.Workflow{
		Config: cfg,
		Runner: command.NewExecRunner(),
		Log:    rl,
		Prompt: promptYesNo,
	}
	if err := w.Run(ctx); err != nil {
		workflow.Report(os.Stderr, rl, err)
		return fmt.Errorf("provisioning failed")
	}

	fmt.Printf("Provisioning complete. Run log: %s\n", rl.Path())
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if scriptURL != "" {
		cfg.ScriptURL = scriptURL
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	cfg.Confirm = config.ResolveConfirmation(assumeYes, os.Getenv)
	return cfg, nil
}

// runDoctor prints the same bundle the provisioner captures on a failed
// create, for standalone troubleshooting.
func runDoctor(ctx context.Context) error {
	runner := command.NewExecRunner()
	client := multipass.NewClient(runner)

	if v, err := client.Version(ctx); err == nil {
		fmt.Printf("Manager version:\n%s\n\n", v)
	} else {
		fmt.Printf("Manager version unavailable: %v\n\n", err)
	}

	if entries, err := client.Find(ctx); err == nil {
		fmt.Printf("Image catalog (%d entries):\n", len(entries))
		for _, e := range entries {
			if len(e.Aliases) > 0 {
				fmt.Printf("  %s (%s)\n", e.Name, strings.Join(e.Aliases, ", "))
			} else {
				fmt.Printf("  %s\n", e.Name)
			}
		}
		fmt.Println()
	} else {
		fmt.Printf("Image catalog unavailable: %v\n\n", err)
	}

	if _, err := runner.RunCmd(ctx, "ping", "-c1", "-W2", "cloud-images.ubuntu.com"); err == nil {
		fmt.Println("Connectivity: cloud-images.ubuntu.com reachable")
	} else {
		fmt.Printf("Connectivity: cloud-images.ubuntu.com NOT reachable (%v)\n", err)
	}
	return nil
}

// promptYesNo asks on the terminal and defaults to no on unreadable input.
func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
