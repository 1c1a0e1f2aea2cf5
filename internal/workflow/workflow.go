// Package workflow sequences a complete provisioning run.
//
// The order is fixed: preflight checks, platform detection, security posture
// resolution, dependency installation, VM provisioning, remote setup. One
// logical thread throughout; every wait is a blocking bounded poll. A single
// staging directory is acquired up front and removed on every exit path, and
// every fatal condition leaves through Run's one error return so the
// top-level handler runs exactly once.
package workflow

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/deps"
	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/platform"
	"github.com/jbweber/hutch/internal/provision"
	"github.com/jbweber/hutch/internal/remote"
	"github.com/jbweber/hutch/internal/runlog"
	"github.com/jbweber/hutch/internal/security"
)

// requiredCommands must be on PATH before any work starts. Everything else
// the workflow needs it installs itself.
var requiredCommands = []string{"sudo", "systemctl"}

// networkProbeHost is pinged from the host during preflight; no outbound
// network means neither the package manager nor the image catalog can work.
const networkProbeHost = "cloud-images.ubuntu.com"

// Workflow owns one provisioning run.
type Workflow struct {
	Config *config.Config
	Runner command.Runner
	Log    *runlog.Log

	// Prompt answers operator questions; only consulted under AlwaysAsk.
	Prompt func(question string) bool

	// Seams for tests; nil means the real implementation.
	DetectFamily func() (platform.Family, error)
	Geteuid      func() int

	// GrubPath and SysFSPath are handed to the posture resolver so tests
	// can point them at fixtures.
	GrubPath  string
	SysFSPath string

	// HTTP overrides the dispatcher's fetch client, for tests.
	HTTP *retryablehttp.Client
}

// Run executes the workflow end to end.
func (w *Workflow) Run(ctx context.Context) error {
	staging, err := os.MkdirTemp("", "hutch-staging-")
	if err != nil {
		return failure.New(failure.PreconditionFailed, fmt.Errorf("failed to create staging directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Printf("Warning: failed to remove staging directory %s: %v", staging, err)
		}
	}()

	if err := w.preflight(ctx); err != nil {
		return err
	}

	family, err := w.detectFamily()
	if err != nil {
		return failure.New(failure.PreconditionFailed, err)
	}
	log.Printf("Detected platform family: %s", family)
	w.Log.Appendf("workflow: platform family %s", family)

	resolver := &security.Resolver{
		Runner:    w.Runner,
		Log:       w.Log,
		Confirm:   w.Config.Confirm,
		Prompt:    w.Prompt,
		GrubPath:  w.GrubPath,
		SysFSPath: w.SysFSPath,
	}
	posture := resolver.Resolve(ctx, family)
	log.Printf("Security posture for this session: %s", posture)

	installer := &deps.Installer{
		Runner:      w.Runner,
		Log:         w.Log,
		Family:      family,
		Posture:     posture,
		SeedingWait: w.Config.SeedingWait,
		RetryWait:   time.Duration(w.Config.InstallRetryWaitSeconds) * time.Second,
	}
	if err := installer.EnsureSnapd(ctx); err != nil {
		return err
	}
	degraded, err := installer.EnsureVMManager(ctx)
	if err != nil {
		return err
	}
	if degraded {
		log.Printf("VM manager installed in devmode (degraded confinement)")
	}

	client := multipass.NewClient(w.Runner)
	provisioner := &provision.Provisioner{
		Client:      client,
		Runner:      w.Runner,
		Log:         w.Log,
		NetworkWait: w.Config.NetworkWait,
	}
	results, err := provisioner.ProvisionAll(ctx, w.Config.Targets, w.Config.PrimaryImage, w.Config.FallbackImage)
	if err != nil {
		return err
	}

	dispatcher := &remote.Dispatcher{
		Client:     client,
		Log:        w.Log,
		StagingDir: staging,
		HTTP:       w.HTTP,
	}
	warnings := 0
	for _, res := range results {
		outcome, err := dispatcher.Apply(ctx, res.Target.Name, w.Config.ScriptURL)
		if err != nil {
			return err
		}
		if outcome == remote.AppliedWithWarnings {
			warnings++
		}
	}

	if warnings > 0 {
		log.Printf("Provisioned %d instance(s); setup reported warnings on %d", len(results), warnings)
	} else {
		log.Printf("Provisioned %d instance(s)", len(results))
	}
	w.Log.Appendf("workflow: run completed, %d instance(s), %d with setup warnings", len(results), warnings)
	return nil
}

// preflight runs the precondition checks. Any failure here is fatal
// immediately: nothing has been changed yet and nothing is worth retrying.
func (w *Workflow) preflight(ctx context.Context) error {
	if w.geteuid() == 0 {
		return failure.Newf(failure.PreconditionFailed,
			"hutch must not run as root; it escalates with sudo where needed")
	}

	for _, name := range requiredCommands {
		if _, err := w.Runner.LookPath(name); err != nil {
			return failure.Newf(failure.PreconditionFailed, "required command %q not found on PATH", name)
		}
	}

	if _, err := w.Runner.RunCmd(ctx, "ping", "-c1", "-W2", networkProbeHost); err != nil {
		return failure.New(failure.PreconditionFailed,
			fmt.Errorf("no outbound network (cannot reach %s): %w", networkProbeHost, err))
	}

	w.Log.Appendf("workflow: preflight passed")
	return nil
}

func (w *Workflow) detectFamily() (platform.Family, error) {
	if w.DetectFamily != nil {
		return w.DetectFamily()
	}
	return platform.Detect()
}

func (w *Workflow) geteuid() int {
	if w.Geteuid != nil {
		return w.Geteuid()
	}
	return os.Geteuid()
}
