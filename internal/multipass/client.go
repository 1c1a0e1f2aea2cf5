// Package multipass wraps the multipass CLI and provides the VM manager
// operations the workflow needs.
//
// The manager is an external collaborator spoken to over argv; the only
// structured output it offers is the JSON instance list. Every method
// tolerates the CLI failing or returning empty or malformed output and
// reports the problem as an error rather than panicking. No method retries
// internally; retry policy lives with the callers.
package multipass

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jbweber/hutch/internal/command"
	"github.com/jbweber/hutch/internal/config"
)

// Binary is the manager CLI name as resolved on PATH.
const Binary = "multipass"

// Instance is one entry from the manager's inventory.
type Instance struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// listOutput matches the manager's `list --format json` envelope.
type listOutput struct {
	List []Instance `json:"list"`
}

// CatalogEntry is one image offered by the manager's find operation.
type CatalogEntry struct {
	Name    string
	Aliases []string
}

// Matches reports whether the entry is identified by the given token, either
// by its catalog name or by one of its aliases.
func (e CatalogEntry) Matches(token string) bool {
	if token == "" {
		return false
	}
	if e.Name == token {
		return true
	}
	for _, a := range e.Aliases {
		if a == token {
			return true
		}
	}
	return false
}

// Client issues multipass operations through a command Runner.
type Client struct {
	runner command.Runner
}

// NewClient returns a Client backed by the given runner.
func NewClient(runner command.Runner) *Client {
	return &Client{runner: runner}
}

// List returns the current instance inventory. Malformed or empty JSON from
// the manager is downgraded to an empty inventory with a logged warning, so
// a flaky list never aborts conflict resolution.
func (c *Client) List(ctx context.Context) ([]Instance, error) {
	rr, err := c.runner.RunCmd(ctx, Binary, "list", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var out listOutput
	if err := json.Unmarshal(rr.Stdout.Bytes(), &out); err != nil {
		log.Printf("Warning: unparseable instance list from manager, assuming empty: %v", err)
		return nil, nil
	}
	return out.List, nil
}

// Find queries the image catalog. Output is the manager's aligned text table;
// the header line and anything that does not look like an image row is
// skipped.
func (c *Client) Find(ctx context.Context) ([]CatalogEntry, error) {
	rr, err := c.runner.RunCmd(ctx, Binary, "find")
	if err != nil {
		return nil, fmt.Errorf("failed to query image catalog: %w", err)
	}
	return parseCatalog(rr.Stdout.String()), nil
}

// parseCatalog extracts catalog entries from find's table output.
func parseCatalog(out string) []CatalogEntry {
	var entries []CatalogEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// Header row of the table.
		if fields[0] == "Image" {
			continue
		}
		e := CatalogEntry{Name: fields[0]}
		if len(fields) > 1 {
			e.Aliases = strings.Split(fields[1], ",")
		}
		entries = append(entries, e)
	}
	return entries
}

// Launch creates an instance for the target from the given image.
func (c *Client) Launch(ctx context.Context, target config.Target, image string) error {
	rr, err := c.runner.RunCmd(ctx, Binary, "launch",
		"--cpus", fmt.Sprintf("%d", target.CPUs),
		"--memory", fmt.Sprintf("%dG", target.MemoryGB),
		"--disk", fmt.Sprintf("%dG", target.DiskGB),
		"--name", target.Name,
		image,
	)
	if err != nil {
		if rr == nil {
			return fmt.Errorf("failed to launch %s from image %s: %w", target.Name, image, err)
		}
		return fmt.Errorf("failed to launch %s from image %s: %w\n%s", target.Name, image, err, rr.Output())
	}
	return nil
}

// Delete removes an instance (recoverable until purged).
func (c *Client) Delete(ctx context.Context, name string) error {
	if _, err := c.runner.RunCmd(ctx, Binary, "delete", name); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	return nil
}

// Purge permanently removes all deleted instances.
func (c *Client) Purge(ctx context.Context) error {
	if _, err := c.runner.RunCmd(ctx, Binary, "purge"); err != nil {
		return fmt.Errorf("failed to purge deleted instances: %w", err)
	}
	return nil
}

// Exec runs a command inside a running instance.
func (c *Client) Exec(ctx context.Context, name string, argv ...string) (*command.RunResult, error) {
	args := append([]string{"exec", name, "--"}, argv...)
	return c.runner.RunCmd(ctx, Binary, args...)
}

// Transfer copies a local file into an instance.
func (c *Client) Transfer(ctx context.Context, src, name, dest string) error {
	if _, err := c.runner.RunCmd(ctx, Binary, "transfer", src, name+":"+dest); err != nil {
		return fmt.Errorf("failed to transfer %s into %s: %w", src, name, err)
	}
	return nil
}

// Version returns the manager's version output, for diagnostics.
func (c *Client) Version(ctx context.Context) (string, error) {
	rr, err := c.runner.RunCmd(ctx, Binary, "version")
	if err != nil {
		return "", fmt.Errorf("failed to query manager version: %w", err)
	}
	return strings.TrimSpace(rr.Stdout.String()), nil
}
