// Package deps installs the prerequisite tool stack: the package-manager
// daemon (snapd) and the VM manager delivered through it.
//
// Install commands are platform specific and run through the command Runner.
// A non-zero install is a hard failure for that dependency; the only retry
// policy here is the daemon seeding wait and the single strict-install retry
// that precedes a devmode fallback.
package deps

import (
	"context"
	"time"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/platform"
	"github.com/jbweber/hutch/internal/runlog"
	"github.com/jbweber/hutch/internal/security"
)

// Status is the outcome of an install-if-absent call.
type Status int

const (
	// Failed means the presence check was negative and the install did
	// not succeed.
	Failed Status = iota
	// Installed means the dependency was absent and is now installed.
	Installed
	// AlreadyPresent means the presence check short-circuited the install.
	AlreadyPresent
)

func (s Status) String() string {
	switch s {
	case Installed:
		return "installed"
	case AlreadyPresent:
		return "already present"
	default:
		return "failed"
	}
}

// Dependency pairs a presence check with a platform-specific install action.
type Dependency struct {
	Name    string
	Present func(ctx context.Context) bool
	Install func(ctx context.Context) error
}

// Installer installs dependencies for one session.
type Installer struct {
	Runner  command.Runner
	Log     *runlog.Log
	Family  platform.Family
	Posture security.Posture

	// SeedingWait bounds the daemon first-run seeding wait.
	SeedingWait config.PollBudget

	// RetryWait is the grace interval before the single strict-install
	// retry that precedes the devmode fallback.
	RetryWait time.Duration

	// sleep is a seam for tests; nil means time.Sleep.
	sleep func(time.Duration)
}

// InstallIfAbsent runs dep's presence check and, only when negative, its
// install action. Calling it again once the dependency is present performs
// no further install.
func (i *Installer) InstallIfAbsent(ctx context.Context, dep Dependency) (Status, error) {
	if dep.Present(ctx) {
		i.Log.Appendf("deps: %s already present", dep.Name)
		return AlreadyPresent, nil
	}

	i.Log.Appendf("deps: installing %s", dep.Name)
	if err := dep.Install(ctx); err != nil {
		i.Log.Appendf("deps: %s install failed: %v", dep.Name, err)
		return Failed, err
	}
	i.Log.Appendf("deps: %s installed", dep.Name)
	return Installed, nil
}

func (i *Installer) pause(d time.Duration) {
	if i.sleep != nil {
		i.sleep(d)
		return
	}
	time.Sleep(d)
}

// binaryOnPath is the common presence check.
func (i *Installer) binaryOnPath(name string) func(context.Context) bool {
	return func(context.Context) bool {
		_, err := i.Runner.LookPath(name)
		return err == nil
	}
}
