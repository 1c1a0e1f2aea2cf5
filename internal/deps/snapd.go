package deps

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/platform"
	"github.com/jbweber/hutch/internal/poll"
)

// EnsureSnapd installs the snap daemon if absent and waits for it to finish
// seeding. Seeding is the daemon's asynchronous first-run initialization;
// until it completes the daemon cannot service installs, and this process can
// neither speed it up nor observe progress, only poll.
func (i *Installer) EnsureSnapd(ctx context.Context) error {
	status, err := i.InstallIfAbsent(ctx, Dependency{
		Name:    "snapd",
		Present: i.binaryOnPath("snap"),
		Install: i.installSnapd,
	})
	if err != nil {
		return failure.New(failure.SnapdUnavailable, fmt.Errorf("failed to install snapd: %w", err))
	}
	log.Printf("snapd: %s", status)

	return i.waitSeeded(ctx)
}

// installSnapd runs the platform family's package-manager install. On Arch
// the daemon lives in the AUR, so the AUR helper is installed first as its
// own dependency.
func (i *Installer) installSnapd(ctx context.Context) error {
	switch i.Family {
	case platform.Debian:
		return i.run(ctx, "sudo", "apt-get", "install", "-y", "snapd")
	case platform.RHEL:
		if err := i.run(ctx, "sudo", "dnf", "install", "-y", "snapd"); err != nil {
			return err
		}
		return i.run(ctx, "sudo", "systemctl", "enable", "--now", "snapd.socket")
	case platform.Arch:
		if _, err := i.ensureAURHelper(ctx); err != nil {
			return err
		}
		return i.run(ctx, "yay", "-S", "--noconfirm", "snapd")
	default:
		return failure.Newf(failure.PreconditionFailed, "unsupported platform family %q", i.Family)
	}
}

// ensureAURHelper installs yay when missing. Building from the AUR needs git
// and the base toolchain, then a user-mode makepkg.
func (i *Installer) ensureAURHelper(ctx context.Context) (Status, error) {
	return i.InstallIfAbsent(ctx, Dependency{
		Name:    "yay",
		Present: i.binaryOnPath("yay"),
		Install: func(ctx context.Context) error {
			if err := i.run(ctx, "sudo", "pacman", "-S", "--needed", "--noconfirm", "git", "base-devel"); err != nil {
				return err
			}
			return i.run(ctx, "sh", "-c",
				"cd $(mktemp -d) && git clone https://aur.archlinux.org/yay-bin.git . && makepkg -si --noconfirm")
		},
	})
}

// waitSeeded polls the daemon's seeding state at a fixed interval. The probe
// is the seeded unit's active state, which is non-blocking; the budget is
// several minutes because first-time seeding routinely takes that long.
func (i *Installer) waitSeeded(ctx context.Context) error {
	log.Printf("Waiting for snapd to finish seeding (up to %v)...",
		i.SeedingWait.Interval()*time.Duration(i.SeedingWait.MaxAttempts))
	i.Log.Appendf("deps: waiting for snapd seeding, interval=%v attempts=%d",
		i.SeedingWait.Interval(), i.SeedingWait.MaxAttempts)

	p := poll.Poller{
		Interval:    i.SeedingWait.Interval(),
		MaxAttempts: i.SeedingWait.MaxAttempts,
		Progress: func(attempt, maxAttempts int) {
			log.Printf("Still waiting for snapd seeding (%d/%d attempts)", attempt, maxAttempts)
		},
	}
	res := p.Await(ctx, func(ctx context.Context) bool {
		_, err := i.Runner.RunCmd(ctx, "systemctl", "is-active", "--quiet", "snapd.seeded.service")
		return err == nil
	})
	if !res.Ready {
		i.Log.Appendf("deps: snapd seeding timed out after %d attempts", res.Attempts)
		return failure.Newf(failure.SeedingTimeout,
			"snapd did not finish seeding within %d attempts", res.Attempts)
	}

	i.Log.Appendf("deps: snapd seeded after %d attempts", res.Attempts)
	return nil
}

func (i *Installer) run(ctx context.Context, name string, args ...string) error {
	rr, err := i.Runner.RunCmd(ctx, name, args...)
	if err != nil {
		if rr == nil {
			return err
		}
		return fmt.Errorf("%s: %w\n%s", rr.Command(), err, rr.Output())
	}
	return nil
}
