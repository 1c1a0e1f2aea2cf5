// Package provision drives the per-target VM lifecycle state machine.
//
// Each target moves Unchecked -> ConflictResolved -> ImageSelected ->
// Created -> NetworkVerified, or to Failed. Targets are provisioned
// sequentially: the VM manager serializes its own operations anyway, and
// sequential runs keep failure attribution and log output deterministic.
package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/poll"
	"github.com/jbweber/hutch/internal/runlog"
)

// State is a target's position in the provisioning lifecycle.
type State string

const (
	Unchecked        State = "unchecked"
	ConflictResolved State = "conflict-resolved"
	ImageSelected    State = "image-selected"
	Created          State = "created"
	NetworkVerified  State = "network-verified"
	Failed      State = "failed"
)

// Result records where one target ended up.
type Result struct {
	Target config.Target
	State  State
	Image  string
}

// connectivityProbeHost answers pings from anywhere; used to verify outbound
// networking from inside a created VM.
const connectivityProbeHost = "1.1.1.1"

// imageHost serves the manager's image catalog; probed for the diagnostic
// bundle when a launch fails.
const imageHost = "cloud-images.ubuntu.com"

// Provisioner creates the configured targets through the VM manager.
type Provisioner struct {
	Client *multipass.Client
	Runner command.Runner
	Log    *runlog.Log

	// NetworkWait bounds the in-VM connectivity verification.
	NetworkWait config.PollBudget
}

// ProvisionAll provisions every target in order. The inventory and the image
// catalog are each queried once for the whole run. The returned results
// always cover all targets, including the states reached before a failure.
func (p *Provisioner) ProvisionAll(ctx context.Context, targets []config.Target, primary, fallback config.ImageTier) ([]Result, error) {
	results := make([]Result, len(targets))
	for i, t := range targets {
		results[i] = Result{Target: t, State: Unchecked}
	}

	existing, err := p.existingNames(ctx, targets)
	if err != nil {
		return results, err
	}

	catalog, err := p.Client.Find(ctx)
	if err != nil {
		return results, failure.New(failure.NoUsableImage, fmt.Errorf("image catalog query failed: %w", err))
	}
	selection := SelectImage(catalog, primary, fallback)
	if selection.Tier == None {
		return results, failure.Newf(failure.NoUsableImage,
			"no usable image in catalog (%d entries, wanted %s or %s)", len(catalog), primary.Codename, fallback.Codename)
	}
	log.Printf("Selected image %s (%s tier)", selection.Image, selection.Tier)
	p.Log.Appendf("provision: selected image %s from %s tier", selection.Image, selection.Tier)

	for i := range results {
		if err := p.provisionOne(ctx, &results[i], existing, selection); err != nil {
			results[i].State = Failed
			return results, err
		}
	}
	return results, nil
}

// provisionOne walks a single target through the state machine.
func (p *Provisioner) provisionOne(ctx context.Context, res *Result, existing map[string]bool, selection ImageSelection) error {
	target := res.Target

	if existing[target.Name] {
		log.Printf("Instance %s already exists, recreating", target.Name)
		p.Log.Appendf("provision: %s collides with existing instance, deleting", target.Name)
		if err := p.Client.Delete(ctx, target.Name); err != nil {
			return failure.New(failure.VMCreateFailed, err)
		}
		if err := p.Client.Purge(ctx); err != nil {
			return failure.New(failure.VMCreateFailed, err)
		}
	}
	res.State = ConflictResolved

	res.Image = selection.Image
	res.State = ImageSelected

	log.Printf("Launching %s (%d CPU, %dG memory, %dG disk) from %s",
		target.Name, target.CPUs, target.MemoryGB, target.DiskGB, selection.Image)
	if err := p.Client.Launch(ctx, target, selection.Image); err != nil {
		p.captureDiagnostics(ctx)
		return failure.New(failure.VMCreateFailed, fmt.Errorf("failed to create %s: %w", target.Name, err))
	}
	res.State = Created
	p.Log.Appendf("provision: %s created from %s", target.Name, selection.Image)

	if err := p.verifyNetwork(ctx, target.Name); err != nil {
		return err
	}
	res.State = NetworkVerified
	p.Log.Appendf("provision: %s network verified", target.Name)
	return nil
}

// existingNames queries the inventory once and returns the requested names
// that collide with it.
func (p *Provisioner) existingNames(ctx context.Context, targets []config.Target) (map[string]bool, error) {
	instances, err := p.Client.List(ctx)
	if err != nil {
		return nil, failure.New(failure.VMCreateFailed, fmt.Errorf("inventory query failed: %w", err))
	}

	requested := make(map[string]bool, len(targets))
	for _, t := range targets {
		requested[t.Name] = true
	}
	existing := make(map[string]bool)
	for _, inst := range instances {
		if requested[inst.Name] {
			existing[inst.Name] = true
		}
	}
	return existing, nil
}

// verifyNetwork polls outbound connectivity from inside the instance. There
// is no remediation to attempt on timeout: broken VM networking needs
// environment-level intervention, so the failure is final for the target.
func (p *Provisioner) verifyNetwork(ctx context.Context, name string) error {
	p.Log.Appendf("provision: verifying outbound network from %s", name)
	poller := poll.Poller{
		Interval:    p.NetworkWait.Interval(),
		MaxAttempts: p.NetworkWait.MaxAttempts,
		Every:       5,
		Progress: func(attempt, maxAttempts int) {
			log.Printf("Still waiting for network in %s (%d/%d attempts)", name, attempt, maxAttempts)
		},
	}
	res := poller.Await(ctx, func(ctx context.Context) bool {
		_, err := p.Client.Exec(ctx, name, "ping", "-c1", "-W2", connectivityProbeHost)
		return err == nil
	})
	if !res.Ready {
		p.Log.Appendf("provision: %s network verification timed out after %d attempts", name, res.Attempts)
		return failure.Newf(failure.VMNetworkTimeout,
			"no outbound connectivity from %s after %d attempts", name, res.Attempts)
	}
	return nil
}

// captureDiagnostics appends the bundle a human needs to self-diagnose a
// failed create without re-running: manager version, what the catalog
// offered, and whether the image host is reachable at all.
func (p *Provisioner) captureDiagnostics(ctx context.Context) {
	log.Printf("Create failed, capturing diagnostics into the run log")

	if v, err := p.Client.Version(ctx); err == nil {
		p.Log.AppendBlock("diagnostics: manager version", v)
	} else {
		p.Log.Appendf("diagnostics: manager version unavailable: %v", err)
	}

	if rr, err := p.Runner.RunCmd(ctx, multipass.Binary, "find"); err == nil {
		p.Log.AppendBlock("diagnostics: image catalog", rr.Stdout.String())
	} else {
		p.Log.Appendf("diagnostics: image catalog unavailable: %v", err)
	}

	if _, err := p.Runner.RunCmd(ctx, "ping", "-c1", "-W2", imageHost); err == nil {
		p.Log.Appendf("diagnostics: %s reachable from host", imageHost)
	} else {
		p.Log.Appendf("diagnostics: %s NOT reachable from host: %v", imageHost, err)
	}
}
