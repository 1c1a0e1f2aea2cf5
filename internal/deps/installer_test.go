package deps

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
	"github.com/jbweber/hutch/internal/failure"
	"github.com/jbweber/hutch/internal/platform"
	"github.com/jbweber/hutch/internal/runlog"
	"github.com/jbweber/hutch/internal/security"
)

func testInstaller(t *testing.T, f *command.FakeRunner) *Installer {
	t.Helper()
	l, err := runlog.Open(filepath.Join(t.TempDir(), "run.log"))
	if err != nil {
		t.Fatalf("runlog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return &Installer{
		Runner:      f,
		Log:         l,
		Family:      platform.Debian,
		Posture:     security.Strict,
		SeedingWait: config.PollBudget{IntervalSeconds: 1, MaxAttempts: 3},
		RetryWait:   time.Millisecond,
		sleep:       func(time.Duration) {},
	}
}

func TestInstallIfAbsentIdempotent(t *testing.T) {
	f := command.NewFakeRunner()
	inst := testInstaller(t, f)

	present := false
	installs := 0
	dep := Dependency{
		Name:    "widget",
		Present: func(context.Context) bool { return present },
		Install: func(context.Context) error {
			installs++
			present = true
			return nil
		},
	}

	status, err := inst.InstallIfAbsent(context.Background(), dep)
	if err != nil || status != Installed {
		t.Fatalf("first call: status=%v err=%v", status, err)
	}
	status, err = inst.InstallIfAbsent(context.Background(), dep)
	if err != nil || status != AlreadyPresent {
		t.Fatalf("second call: status=%v err=%v", status, err)
	}
	if installs != 1 {
		t.Errorf("install ran %d times, want exactly 1", installs)
	}
}

func TestInstallIfAbsentHardFailure(t *testing.T) {
	f := command.NewFakeRunner()
	inst := testInstaller(t, f)

	installs := 0
	boom := errors.New("exit status 1")
	dep := Dependency{
		Name:    "widget",
		Present: func(context.Context) bool { return false },
		Install: func(context.Context) error {
			installs++
			return boom
		},
	}

	status, err := inst.InstallIfAbsent(context.Background(), dep)
	if status != Failed || !errors.Is(err, boom) {
		t.Fatalf("status=%v err=%v, want Failed with cause", status, err)
	}
	if installs != 1 {
		t.Errorf("install ran %d times; installer must not retry internally", installs)
	}
}

func TestEnsureSnapdAlreadyPresentStillWaitsSeeding(t *testing.T) {
	f := command.NewFakeRunner()
	// snap on PATH; seeding probe succeeds immediately.
	inst := testInstaller(t, f)

	if err := inst.EnsureSnapd(context.Background()); err != nil {
		t.Fatalf("EnsureSnapd: %v", err)
	}
	if f.CallCount("apt-get install") != 0 {
		t.Error("install ran although snap was present")
	}
	if f.CallCount("systemctl is-active --quiet snapd.seeded.service") != 1 {
		t.Error("seeding wait skipped")
	}
}

func TestEnsureSnapdInstallsPerFamily(t *testing.T) {
	tests := []struct {
		family platform.Family
		want   string
	}{
		{family: platform.Debian, want: "apt-get install -y snapd"},
		{family: platform.RHEL, want: "dnf install -y snapd"},
		{family: platform.Arch, want: "yay -S --noconfirm snapd"},
	}

	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			f := command.NewFakeRunner()
			f.SetMissing("snap")
			inst := testInstaller(t, f)
			inst.Family = tt.family

			if err := inst.EnsureSnapd(context.Background()); err != nil {
				t.Fatalf("EnsureSnapd: %v", err)
			}
			if f.CallCount(tt.want) != 1 {
				t.Errorf("install command %q ran %d times in calls %v", tt.want, f.CallCount(tt.want), f.Calls)
			}
		})
	}
}

func TestEnsureSnapdUnsupportedFamily(t *testing.T) {
	f := command.NewFakeRunner()
	f.SetMissing("snap")
	inst := testInstaller(t, f)
	inst.Family = platform.Unknown

	err := inst.EnsureSnapd(context.Background())
	if err == nil {
		t.Fatal("unsupported family should fail")
	}
	if got := failure.SignatureOf(err); got != failure.PreconditionFailed {
		t.Errorf("signature = %q, want %q", got, failure.PreconditionFailed)
	}
}

func TestEnsureSnapdSeedingTimeoutSignature(t *testing.T) {
	f := command.NewFakeRunner()
	f.Fail("systemctl is-active", "inactive")
	inst := testInstaller(t, f)
	inst.SeedingWait = config.PollBudget{IntervalSeconds: 1, MaxAttempts: 2}

	// Shrink the poll interval through a cancelled-free fast path: the
	// budget above still sleeps one second per retry, so cap the test.
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	err := inst.EnsureSnapd(ctx)
	if err == nil {
		t.Fatal("seeding never completes, expected error")
	}
	if got := failure.SignatureOf(err); got != failure.SeedingTimeout {
		t.Errorf("signature = %q, want %q", got, failure.SeedingTimeout)
	}
	if got := f.CallCount("systemctl is-active"); got != 2 {
		t.Errorf("seeding probe ran %d times, want the full budget of 2", got)
	}
}

func TestEnsureVMManagerDegradedPostureInstallsDevmodeDirectly(t *testing.T) {
	f := command.NewFakeRunner()
	f.SetMissing("multipass")
	inst := testInstaller(t, f)
	inst.Posture = security.Degraded

	degraded, err := inst.EnsureVMManager(context.Background())
	if err != nil {
		t.Fatalf("EnsureVMManager: %v", err)
	}
	if !degraded {
		t.Error("degraded posture install should report degraded")
	}
	if got := f.CallCount("snap install multipass --devmode"); got != 1 {
		t.Errorf("devmode install ran %d times, want 1", got)
	}
	if got := f.CallCount("snap install multipass"); got != 1 {
		t.Errorf("no strict install may be attempted under degraded posture, saw %v", f.Calls)
	}
}

func TestEnsureVMManagerStrictSuccess(t *testing.T) {
	f := command.NewFakeRunner()
	f.SetMissing("multipass")
	inst := testInstaller(t, f)

	degraded, err := inst.EnsureVMManager(context.Background())
	if err != nil {
		t.Fatalf("EnsureVMManager: %v", err)
	}
	if degraded {
		t.Error("strict success should not report degraded")
	}
	if f.CallCount("--devmode") != 0 {
		t.Error("devmode must not be attempted while strict succeeds")
	}
}

func TestEnsureVMManagerRetryThenDegrade(t *testing.T) {
	f := command.NewFakeRunner()
	f.SetMissing("multipass")
	// Devmode succeeds; plain strict install fails. Order matters: the
	// devmode rule is more specific, register it first.
	f.Respond("snap install multipass --devmode", command.FakeResponse{})
	f.Fail("snap install multipass", "error: cannot perform the following tasks")

	var slept []time.Duration
	inst := testInstaller(t, f)
	inst.RetryWait = 15 * time.Millisecond
	inst.sleep = func(d time.Duration) { slept = append(slept, d) }

	degraded, err := inst.EnsureVMManager(context.Background())
	if err != nil {
		t.Fatalf("EnsureVMManager: %v", err)
	}
	if !degraded {
		t.Error("fallback install should report degraded")
	}
	// Exactly: strict, wait, strict retry, devmode.
	if got := f.CallCount("snap install multipass --devmode"); got != 1 {
		t.Errorf("devmode install ran %d times, want 1", got)
	}
	if got := f.CallCount("snap install multipass"); got != 3 {
		t.Errorf("total install attempts = %d, want 3 (two strict, one devmode)", got)
	}
	if len(slept) != 1 || slept[0] != 15*time.Millisecond {
		t.Errorf("grace wait = %v, want one wait of 15ms", slept)
	}
}

func TestEnsureVMManagerAllPathsFail(t *testing.T) {
	f := command.NewFakeRunner()
	f.SetMissing("multipass")
	f.Fail("snap install multipass", "store unreachable")
	inst := testInstaller(t, f)

	_, err := inst.EnsureVMManager(context.Background())
	if err == nil {
		t.Fatal("expected error when every install path fails")
	}
	if !strings.Contains(err.Error(), "store unreachable") {
		t.Errorf("error should carry install output, got: %v", err)
	}
}

func TestStatusString(t *testing.T) {
	if Installed.String() != "installed" || AlreadyPresent.String() != "already present" || Failed.String() != "failed" {
		t.Error("status rendering broken")
	}
}
