// Package remote fetches the secondary setup script and runs it inside a
// provisioned instance.
//
// A failing script inside the VM is a warning, not a fatal error: the
// script's own steps are individually best-effort and the instance remains
// usable without them. Fetch and transfer failures are real errors because
// the script never reached the VM at all.
package remote

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/jbweber/hutch/internal/multipass"
	"github.com/jbweber/hutch/internal/runlog"
)

// Outcome reports how an Apply ended.
type Outcome int

const (
	// Applied means the script ran inside the VM and exited zero.
	Applied Outcome = iota
	// AppliedWithWarnings means the script ran but exited non-zero.
	AppliedWithWarnings
)

func (o Outcome) String() string {
	if o == AppliedWithWarnings {
		return "applied with warnings"
	}
	return "applied"
}

// guestScriptPath is where the script lands inside the instance.
const guestScriptPath = "/tmp/hutch-setup.sh"

// Dispatcher applies the remote setup script to instances.
type Dispatcher struct {
	Client *multipass.Client
	Log    *runlog.Log

	// StagingDir receives the fetched script before transfer. The staging
	// copy is removed on every exit path.
	StagingDir string

	// HTTP overrides the retrying fetch client, for tests.
	HTTP *retryablehttp.Client
}

// Apply fetches scriptURL, transfers it into the named instance and executes
// it there with elevated privileges. The local staging copy is deleted
// regardless of outcome.
func (d *Dispatcher) Apply(ctx context.Context, targetName, scriptURL string) (Outcome, error) {
	staged, err := d.fetch(ctx, scriptURL)
	if err != nil {
		return Applied, fmt.Errorf("failed to fetch setup script: %w", err)
	}
	defer func() {
		if err := os.Remove(staged); err != nil {
			log.Printf("Warning: failed to remove staging copy %s: %v", staged, err)
		}
	}()

	if err := d.Client.Transfer(ctx, staged, targetName, guestScriptPath); err != nil {
		return Applied, fmt.Errorf("failed to stage setup script in %s: %w", targetName, err)
	}

	d.Log.Appendf("remote: running setup script in %s", targetName)
	if rr, err := d.Client.Exec(ctx, targetName, "sudo", "bash", guestScriptPath); err != nil {
		log.Printf("Warning: setup script in %s exited non-zero, instance left as-is: %v", targetName, err)
		d.Log.Appendf("remote: setup script in %s failed (instance still usable): %v", targetName, err)
		if rr != nil && rr.Output() != "" {
			d.Log.AppendBlock(fmt.Sprintf("remote: setup script output for %s", targetName), rr.Output())
		}
		return AppliedWithWarnings, nil
	}

	d.Log.Appendf("remote: setup script in %s completed", targetName)
	return Applied, nil
}

// fetch downloads the script to a uuid-named staging file and returns its
// path.
func (d *Dispatcher) fetch(ctx context.Context, scriptURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return "", fmt.Errorf("bad script URL %s: %w", scriptURL, err)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s fetching %s", resp.Status, scriptURL)
	}

	staged := filepath.Join(d.StagingDir, fmt.Sprintf("setup-%s.sh", uuid.New().String()))
	f, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(staged)
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}

	d.Log.Appendf("remote: fetched %s to %s", scriptURL, staged)
	return staged, nil
}

func (d *Dispatcher) httpClient() *retryablehttp.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return c
}
