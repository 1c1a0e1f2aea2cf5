package failure

// remedies maps each known signature to operator guidance. The text targets
// someone reading the failure banner without access to this source.
var remedies = map[Signature]string{
	SeedingTimeout: `The snap daemon never finished its first-run seeding. This can take
several minutes on a fresh install but should not take longer. Check its
status with "snap wait system seed.loaded" and "journalctl -u snapd",
then re-run hutch; already-provisioned state is reused.`,

	SnapdUnavailable: `The snap daemon could not be installed or started on this system.
Install snapd with your distribution's package manager, make sure the
snapd.socket unit is enabled and running, then re-run hutch.`,

	VMCreateFailed: `The VM manager failed to launch an instance. A diagnostic bundle
(manager version, image catalog, connectivity probe) was appended to the
run log. The most common causes are no outbound network access and a
stale image catalog.`,

	VMNetworkTimeout: `A VM was created but never reached the outside network. hutch cannot
fix this automatically: check the host firewall, bridge configuration,
and any VPN software, then delete the instance and re-run.`,

	NoUsableImage: `The image catalog listed no usable release. Run the manager's "find"
command by hand to inspect what it offers; if the catalog is empty the
manager likely has no network access to its image server.`,

	PreconditionFailed: `A preflight check failed before any work started. The message above
names the missing command, network path, or privilege problem.`,

	Generic: `No specific remediation is known for this failure. The run log
referenced above contains the full sequence of operations and their
output.`,
}

// Remedy returns the remediation text for sig.
func Remedy(sig Signature) string {
	if r, ok := remedies[sig]; ok {
		return r
	}
	return remedies[Generic]
}
