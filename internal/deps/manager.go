package deps

import (
	"context"
	"fmt"
	"log"

	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/security"
)

// EnsureVMManager installs the VM manager snap if absent. The degraded
// (devmode) variant is never the first attempt while the session posture is
// strict: the strict install gets one wait-then-retry before falling back.
// Once the posture is degraded, every install in the session requests
// devmode directly. Returns whether the install ended up degraded.
func (i *Installer) EnsureVMManager(ctx context.Context) (bool, error) {
	degraded := i.Posture == security.Degraded

	status, err := i.InstallIfAbsent(ctx, Dependency{
		Name:    multipass.Binary,
		Present: i.binaryOnPath(multipass.Binary),
		Install: func(ctx context.Context) error {
			var installErr error
			degraded, installErr = i.installVMManager(ctx)
			return installErr
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to install %s: %w", multipass.Binary, err)
	}
	log.Printf("%s: %s", multipass.Binary, status)
	return degraded, nil
}

// installVMManager applies the session install policy and reports whether
// the devmode variant was used.
func (i *Installer) installVMManager(ctx context.Context) (bool, error) {
	if i.Posture == security.Degraded {
		i.Log.Appendf("deps: posture degraded, installing %s with devmode", multipass.Binary)
		return true, i.installSnap(ctx, multipass.Binary, true)
	}

	if err := i.installSnap(ctx, multipass.Binary, false); err == nil {
		return false, nil
	}

	// One strict retry after a short grace interval; the daemon sometimes
	// rejects the first install right after seeding.
	log.Printf("Strict install of %s failed, retrying once in %v", multipass.Binary, i.RetryWait)
	i.Log.Appendf("deps: strict %s install failed, waiting %v before retry", multipass.Binary, i.RetryWait)
	i.pause(i.RetryWait)
	if err := i.installSnap(ctx, multipass.Binary, false); err == nil {
		return false, nil
	}

	log.Printf("Strict install of %s failed twice, falling back to devmode", multipass.Binary)
	i.Log.Appendf("deps: falling back to devmode install of %s", multipass.Binary)
	if err := i.installSnap(ctx, multipass.Binary, true); err != nil {
		return true, err
	}
	return true, nil
}

func (i *Installer) installSnap(ctx context.Context, name string, devmode bool) error {
	args := []string{"snap", "install", name}
	if devmode {
		args = append(args, "--devmode")
	}
	return i.run(ctx, "sudo", args...)
}
