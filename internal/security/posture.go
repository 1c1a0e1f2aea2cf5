// Package security resolves the session's install security posture.
//
// Strict snap confinement needs the AppArmor module active. When it is not,
// the resolver decides between scheduling enablement for the next boot and
// accepting degraded (devmode) installs. The resolution is session wide and
// can only ever downgrade: enabling the module requires a reboot, so Strict
// is unreachable within the current run once enablement is needed.
package security

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/platform"
	"github.com/jbweber/hutch/internal/runlog"
)

// Posture is the session-wide install security posture.
type Posture int

const (
	// Unresolved is the pre-check state.
	Unresolved Posture = iota
	// Strict means the security module is active and installs use full
	// confinement.
	Strict
	// Degraded means installs relax confinement (devmode) for the rest of
	// the session.
	Degraded
)

func (p Posture) String() string {
	switch p {
	case Strict:
		return "strict"
	case Degraded:
		return "degraded"
	default:
		return "unresolved"
	}
}

// kernelParams are the cmdline tokens that activate the module at boot.
const kernelParams = "apparmor=1 security=apparmor"

const defaultGrubPath = "/etc/default/grub"
const defaultSysFSPath = "/sys/module/apparmor/parameters/enabled"

// Resolver decides the session posture once, at workflow start.
type Resolver struct {
	Runner  command.Runner
	Log     *runlog.Log
	Confirm config.ConfirmationPolicy

	// Prompt asks the operator a yes/no question. Only consulted when
	// Confirm is AlwaysAsk.
	Prompt func(question string) bool

	// GrubPath and SysFSPath exist so tests can point at fixtures.
	GrubPath  string
	SysFSPath string
}

// Resolve probes the security module and returns the session posture. It
// never returns Strict while the module is reported inactive, and it never
// returns a fatal error: every path degrades rather than aborts.
func (r *Resolver) Resolve(ctx context.Context, family platform.Family) Posture {
	if !moduleApplies(family) {
		r.Log.Appendf("security: module concept not applicable on %s family, posture strict", family)
		return Strict
	}

	if r.moduleActive(ctx) {
		r.Log.Appendf("security: module active, posture strict")
		return Strict
	}

	r.Log.Appendf("security: module inactive")
	if r.shouldEnable() {
		r.scheduleEnablement(ctx)
	} else {
		log.Printf("Security module left disabled; continuing with degraded installs")
	}

	// Enablement, even when scheduled successfully, takes effect at next
	// boot only. The current run is degraded either way.
	r.Log.Appendf("security: posture degraded for this session")
	return Degraded
}

// moduleApplies reports whether the family's snap confinement depends on
// AppArmor. RHEL-family hosts confine through their own module; treat the
// requirement as satisfied there.
func moduleApplies(family platform.Family) bool {
	return family != platform.RHEL
}

// moduleActive probes aa-enabled first and falls back to sysfs when the tool
// is absent.
func (r *Resolver) moduleActive(ctx context.Context) bool {
	if _, err := r.Runner.LookPath("aa-enabled"); err == nil {
		_, err := r.Runner.RunCmd(ctx, "aa-enabled")
		return err == nil
	}

	path := r.SysFSPath
	if path == "" {
		path = defaultSysFSPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "Y"
}

// shouldEnable answers the enable-at-next-boot question under the session's
// confirmation policy.
func (r *Resolver) shouldEnable() bool {
	switch r.Confirm {
	case config.AutoConfirmDefaultYes:
		return true
	case config.AlwaysAsk:
		if r.Prompt != nil {
			return r.Prompt("Security module is disabled. Enable it at next boot (requires reboot)?")
		}
		return false
	default:
		return false
	}
}

// scheduleEnablement mutates the boot configuration so the module activates
// at next boot. Unknown bootloaders are not fatal: the operator gets manual
// instructions and the run continues degraded.
func (r *Resolver) scheduleEnablement(ctx context.Context) {
	grubPath := r.GrubPath
	if grubPath == "" {
		grubPath = defaultGrubPath
	}

	if _, err := os.Stat(grubPath); err != nil {
		log.Printf("Unknown bootloader (no %s); add %q to the kernel command line manually and reboot", grubPath, kernelParams)
		r.Log.Appendf("security: bootloader not recognized, manual enablement required")
		return
	}

	changed, err := EnableInBootConfig(grubPath)
	if err != nil {
		log.Printf("Warning: failed to update boot configuration: %v", err)
		r.Log.Appendf("security: boot configuration update failed: %v", err)
		return
	}
	if !changed {
		r.Log.Appendf("security: boot configuration already requests the module")
	} else {
		r.Log.Appendf("security: boot configuration updated with %q", kernelParams)
		if _, err := r.Runner.RunCmd(ctx, "sudo", "update-grub"); err != nil {
			log.Printf("Warning: update-grub failed, run it manually: %v", err)
		}
	}
	log.Printf("Security module enablement scheduled; it takes effect after a reboot")
}

// EnableInBootConfig adds the module's kernel parameters to the GRUB default
// cmdline. The mutation is idempotent: if the parameters are already present
// the file is left untouched and false is returned.
func EnableInBootConfig(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read boot configuration: %w", err)
	}

	if strings.Contains(string(data), "apparmor=1") {
		return false, nil
	}

	const cmdlineKey = "GRUB_CMDLINE_LINUX_DEFAULT="
	lines := strings.Split(string(data), "\n")
	patched := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, cmdlineKey) {
			continue
		}
		value := strings.TrimPrefix(trimmed, cmdlineKey)
		quoted := strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2
		if quoted {
			value = value[1 : len(value)-1]
		}
		if value != "" {
			value += " "
		}
		value += kernelParams
		lines[i] = cmdlineKey + `"` + value + `"`
		patched = true
		break
	}
	if !patched {
		entry := cmdlineKey + `"` + kernelParams + `"`
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines[n-1] = entry
			lines = append(lines, "")
		} else {
			lines = append(lines, entry)
		}
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("failed to write boot configuration: %w", err)
	}
	return true, nil
}
