// Package config holds the immutable run configuration for a provisioning
// workflow.
//
// A Config is built once at process start (defaults, optionally overlaid with
// a YAML file) and passed explicitly into the workflow; nothing reads it
// ambiently and nothing mutates it after Validate.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Target describes one VM to provision.
type Target struct {
	Name     string `yaml:"name"`
	CPUs     int    `yaml:"cpus"`
	MemoryGB int    `yaml:"memory_gb"`
	DiskGB   int    `yaml:"disk_gb"`
}

// ImageTier identifies one OS release preference by codename and version
// string. Either field matches a catalog entry.
type ImageTier struct {
	Codename string `yaml:"codename"`
	Version  string `yaml:"version"`
}

// PollBudget is an (interval, max attempts) pair for one bounded wait.
type PollBudget struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
}

// Interval returns the budget's interval as a duration.
func (b PollBudget) Interval() time.Duration {
	return time.Duration(b.IntervalSeconds) * time.Second
}

// ConfirmationPolicy governs how yes/no decisions are answered during a run.
type ConfirmationPolicy string

const (
	// AlwaysAsk prompts the operator on the terminal.
	AlwaysAsk ConfirmationPolicy = "ask"
	// AutoConfirmDefaultYes answers every prompt yes without asking.
	AutoConfirmDefaultYes ConfirmationPolicy = "auto-yes"
	// AutoConfirmDefaultNo answers every prompt no without asking.
	AutoConfirmDefaultNo ConfirmationPolicy = "auto-no"
)

// Config is the complete configuration for one run.
type Config struct {
	Targets       []Target  `yaml:"targets"`
	PrimaryImage  ImageTier `yaml:"primary_image"`
	FallbackImage ImageTier `yaml:"fallback_image"`
	ScriptURL     string    `yaml:"script_url"`
	LogFile       string    `yaml:"log_file"`

	// SeedingWait bounds the package-manager daemon seeding wait. First
	// time seeding is asynchronous and regularly takes minutes.
	SeedingWait PollBudget `yaml:"seeding_wait"`

	// NetworkWait bounds the in-VM outbound connectivity check.
	NetworkWait PollBudget `yaml:"network_wait"`

	// InstallRetryWaitSeconds is the grace interval before the single
	// strict-install retry that precedes a degraded fallback.
	InstallRetryWaitSeconds int `yaml:"install_retry_wait_seconds"`

	// Confirm is resolved once at startup, never from YAML.
	Confirm ConfirmationPolicy `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Targets: []Target{
			{Name: "hutch-primary", CPUs: 2, MemoryGB: 4, DiskGB: 20},
			{Name: "hutch-worker", CPUs: 2, MemoryGB: 4, DiskGB: 20},
		},
		PrimaryImage:  ImageTier{Codename: "noble", Version: "24.04"},
		FallbackImage: ImageTier{Codename: "jammy", Version: "22.04"},
		ScriptURL:     "https://raw.githubusercontent.com/jbweber/hutch/main/scripts/guest-setup.sh",
		SeedingWait:   PollBudget{IntervalSeconds: 5, MaxAttempts: 60},
		NetworkWait:   PollBudget{IntervalSeconds: 3, MaxAttempts: 10},

		InstallRetryWaitSeconds: 15,
		Confirm:                 AutoConfirmDefaultNo,
	}
}

// LoadFromFile overlays the YAML at path onto the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero-valued fields from the defaults.
func (c *Config) Normalize() {
	d := Default()
	if len(c.Targets) == 0 {
		c.Targets = d.Targets
	}
	if c.PrimaryImage == (ImageTier{}) {
		c.PrimaryImage = d.PrimaryImage
	}
	if c.FallbackImage == (ImageTier{}) {
		c.FallbackImage = d.FallbackImage
	}
	if c.SeedingWait == (PollBudget{}) {
		c.SeedingWait = d.SeedingWait
	}
	if c.NetworkWait == (PollBudget{}) {
		c.NetworkWait = d.NetworkWait
	}
	if c.InstallRetryWaitSeconds == 0 {
		c.InstallRetryWaitSeconds = d.InstallRetryWaitSeconds
	}
	if c.Confirm == "" {
		c.Confirm = d.Confirm
	}
}

// namePattern matches the VM manager's instance name requirements: letters,
// digits and hyphens, starting with a letter, ending alphanumeric.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

// Validate checks the configuration for errors. It validates structure only,
// not hypervisor state (image availability, host resources).
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	namesSeen := make(map[string]bool)
	for i, tgt := range c.Targets {
		if !namePattern.MatchString(tgt.Name) {
			return fmt.Errorf("targets[%d]: name must be lowercase letters, digits and hyphens, starting with a letter, got %q", i, tgt.Name)
		}
		if namesSeen[tgt.Name] {
			return fmt.Errorf("targets[%d]: duplicate target name %q", i, tgt.Name)
		}
		namesSeen[tgt.Name] = true

		if tgt.CPUs <= 0 {
			return fmt.Errorf("targets[%d]: cpus must be > 0, got %d", i, tgt.CPUs)
		}
		if tgt.MemoryGB <= 0 {
			return fmt.Errorf("targets[%d]: memory_gb must be > 0, got %d", i, tgt.MemoryGB)
		}
		if tgt.DiskGB <= 0 {
			return fmt.Errorf("targets[%d]: disk_gb must be > 0, got %d", i, tgt.DiskGB)
		}
	}

	if c.PrimaryImage == (ImageTier{}) {
		return fmt.Errorf("primary_image is required")
	}
	if c.SeedingWait.IntervalSeconds <= 0 || c.SeedingWait.MaxAttempts <= 0 {
		return fmt.Errorf("seeding_wait must have positive interval and attempts")
	}
	if c.NetworkWait.IntervalSeconds <= 0 || c.NetworkWait.MaxAttempts <= 0 {
		return fmt.Errorf("network_wait must have positive interval and attempts")
	}
	return nil
}

// ResolveConfirmation picks the session's confirmation policy from explicit
// flags and the execution environment. The decision is made exactly once, at
// startup; call sites never re-detect interactivity.
func ResolveConfirmation(assumeYes bool, getenv func(string) string) ConfirmationPolicy {
	if assumeYes || getenv("HUTCH_ASSUME_YES") == "1" {
		return AutoConfirmDefaultYes
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return AlwaysAsk
	}
	return AutoConfirmDefaultNo
}
