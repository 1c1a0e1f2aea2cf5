package provision

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/runlog"
)

const catalogOutput = `Image                       Aliases           Version          Description
core                        core16            20200818         Ubuntu Core 16
22.04                       jammy             20240808         Ubuntu 22.04 LTS
24.04                       noble,lts         20240809         Ubuntu 24.04 LTS
`

const fallbackOnlyCatalog = `Image                       Aliases           Version          Description
22.04                       jammy             20240808         Ubuntu 22.04 LTS
`

func testTargets() []config.Target {
	return []config.Target{
		{Name: "hutch-primary", CPUs: 2, MemoryGB: 4, DiskGB: 20},
		{Name: "hutch-worker", CPUs: 2, MemoryGB: 4, DiskGB: 20},
	}
}

func newProvisioner(t *testing.T, f *command.FakeRunner) *Provisioner {
	t.Helper()
	l, err := runlog.Open(filepath.Join(t.TempDir(), "run.log"))
	if err != nil {
		t.Fatalf("runlog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return &Provisioner{
		Client:      multipass.NewClient(f),
		Runner:      f,
		Log:         l,
		NetworkWait: config.PollBudget{IntervalSeconds: 1, MaxAttempts: 2},
	}
}

func emptyInventory(f *command.FakeRunner) {
	f.Respond("multipass list", command.FakeResponse{Stdout: `{"list":[]}`})
}

func TestProvisionAllHappyPath(t *testing.T) {
	f := command.NewFakeRunner()
	emptyInventory(f)
	f.Respond("multipass find", command.FakeResponse{Stdout: catalogOutput})

	results, err := newProvisioner(t, f).ProvisionAll(context.Background(), testTargets(), primaryTier, fallbackTier)
	if err != nil {
		t.Fatalf("ProvisionAll: %v", err)
	}

	for _, res := range results {
		if res.State != NetworkVerified {
			t.Errorf("%s ended in state %s, want %s", res.Target.Name, res.State, NetworkVerified)
		}
		if res.Image != "24.04" {
			t.Errorf("%s used image %q, want primary 24.04", res.Target.Name, res.Image)
		}
	}
	if got := f.CallCount("multipass launch"); got != 2 {
		t.Errorf("launch ran %d times, want 2", got)
	}
	if got := f.CallCount("multipass find"); got != 1 {
		t.Errorf("catalog queried %d times, want exactly once per run", got)
	}
	if got := f.CallCount("multipass list"); got != 1 {
		t.Errorf("inventory queried %d times, want exactly once per run", got)
	}
	if f.CallCount("multipass delete") != 0 {
		t.Error("no conflicts, nothing may be deleted")
	}
}

func TestProvisionAllFallbackOnlyCatalog(t *testing.T) {
	f := command.NewFakeRunner()
	emptyInventory(f)
	f.Respond("multipass find", command.FakeResponse{Stdout: fallbackOnlyCatalog})

	results, err := newProvisioner(t, f).ProvisionAll(context.Background(), testTargets(), primaryTier, fallbackTier)
	if err != nil {
		t.Fatalf("fallback-only catalog must provision cleanly, got: %v", err)
	}
	for _, res := range results {
		if res.Image != "22.04" {
			t.Errorf("%s used image %q, want fallback 22.04", res.Target.Name, res.Image)
		}
		if res.State != NetworkVerified {
			t.Errorf("%s ended in %s", res.Target.Name, res.State)
		}
	}
}

func TestProvisionAllConflictResolution(t *testing.T) {
	f := command.NewFakeRunner()
	f.Respond("multipass list", command.FakeResponse{
		Stdout: `{"list":[{"name":"hutch-primary","state":"Running"},{"name":"unrelated","state":"Stopped"}]}`,
	})
	f.Respond("multipass find", command.FakeResponse{Stdout: catalogOutput})

	results, err := newProvisioner(t, f).ProvisionAll(context.Background(), testTargets(), primaryTier, fallbackTier)
	if err != nil {
		t.Fatalf("ProvisionAll: %v", err)
	}

	// Exactly one delete+purge cycle for the one colliding name, then both
	// targets created.
	if got := f.CallCount("multipass delete hutch-primary"); got != 1 {
		t.Errorf("delete ran %d times, want 1", got)
	}
	if got := f.CallCount("multipass delete"); got != 1 {
		t.Errorf("unrelated instances must not be deleted, calls: %v", f.Calls)
	}
	if got := f.CallCount("multipass purge"); got != 1 {
		t.Errorf("purge ran %d times, want 1", got)
	}
	if got := f.CallCount("multipass launch"); got != 2 {
		t.Errorf("launch ran %d times, want 2", got)
	}
	// The delete must precede the colliding target's launch.
	deleteIdx, launchIdx := -1, -1
	for i, c := range f.Calls {
		if strings.HasPrefix(c, "multipass delete hutch-primary") && deleteIdx < 0 {
			deleteIdx = i
		}
		if strings.Contains(c, "launch") && strings.Contains(c, "hutch-primary") && launchIdx < 0 {
			launchIdx = i
		}
	}
	if deleteIdx < 0 || launchIdx < 0 || deleteIdx > launchIdx {
		t.Errorf("delete (%d) must precede launch (%d): %v", deleteIdx, launchIdx, f.Calls)
	}
	for _, res := range results {
		if res.State != NetworkVerified {
			t.Errorf("%s ended in %s", res.Target.Name, res.State)
		}
	}
}

func TestProvisionAllNoUsableImage(t *testing.T) {
	f := command.NewFakeRunner()
	emptyInventory(f)
	f.Respond("multipass find", command.FakeResponse{Stdout: "Image  Aliases  Version  Description\ncore  core16  20200818  Ubuntu Core 16\n"})

	_, err := newProvisioner(t, f).ProvisionAll(context.Background(), testTargets(), primaryTier, fallbackTier)
	if err == nil {
		t.Fatal("expected hard failure with no usable image")
	}
	if got := failure.SignatureOf(err); got != failure.NoUsableImage {
		t.Errorf("signature = %q, want %q", got, failure.NoUsableImage)
	}
	if f.CallCount("multipass launch") != 0 {
		t.Error("nothing may be launched without an image")
	}
}

func TestProvisionAllCreateFailureCapturesDiagnostics(t *testing.T) {
	f := command.NewFakeRunner()
	emptyInventory(f)
	f.Respond("multipass find", command.FakeResponse{Stdout: catalogOutput})
	f.Fail("multipass launch", "launch failed: cannot fetch image")
	f.Respond("multipass version", command.FakeResponse{Stdout: "multipass 1.14.0"})

	p := newProvisioner(t, f)
	results, err := p.ProvisionAll(context.Background(), testTargets(), primaryTier, fallbackTier)
	if err == nil {
		t.Fatal("expected create failure")
	}
	if got := failure.SignatureOf(err); got != failure.VMCreateFailed {
		t.Errorf("signature = %q, want %q", got, failure.VMCreateFailed)
	}

	// Diagnostic bundle: version, catalog and connectivity probe.
	if f.CallCount("multipass version") != 1 {
		t.Error("diagnostics missing manager version")
	}
	if got := f.CallCount("multipass find"); got != 2 {
		t.Errorf("diagnostics should re-run find, saw %d total", got)
	}
	if f.CallCount("ping -c1 -W2 cloud-images.ubuntu.com") != 1 {
		t.Error("diagnostics missing host connectivity probe")
	}

	content, readErr := p.Log.ReadAll()
	if readErr != nil {
		t.Fatalf("ReadAll: %v", readErr)
	}
	if !strings.Contains(content, "diagnostics: manager version") {
		t.Errorf("run log missing diagnostics bundle:\n%s", content)
	}

	if results[0].State != Failed {
		t.Errorf("failed target state = %s, want %s", results[0].State, Failed)
	}
	// Sequential processing: the second target is never attempted.
	if results[1].State != Unchecked {
		t.Errorf("second target state = %s, want untouched %s", results[1].State, Unchecked)
	}
}

func TestProvisionAllNetworkTimeout(t *testing.T) {
	f := command.NewFakeRunner()
	emptyInventory(f)
	f.Respond("multipass find", command.FakeResponse{Stdout: catalogOutput})
	f.Fail("multipass exec", "ping: connect: network is unreachable")

	p := newProvisioner(t, f)
	results, err := p.ProvisionAll(context.Background(), testTargets()[:1], primaryTier, fallbackTier)
	if err == nil {
		t.Fatal("expected network verification failure")
	}
	if got := failure.SignatureOf(err); got != failure.VMNetworkTimeout {
		t.Errorf("signature = %q, want %q", got, failure.VMNetworkTimeout)
	}
	// The full bounded budget is spent before giving up.
	if got := f.CallCount("multipass exec"); got != 2 {
		t.Errorf("connectivity probe ran %d times, want the budget of 2", got)
	}
	if results[0].State != Failed {
		t.Errorf("state = %s, want %s", results[0].State, Failed)
	}
}
