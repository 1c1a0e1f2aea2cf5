// Package failure carries typed failure signatures through the error chain.
//
// Every fatal condition in the workflow is raised with a Signature attached at
// the point of failure. The top-level handler extracts the signature with
// SignatureOf and selects remediation text from the registry, instead of
// reconstructing the failure category by scanning log text afterward.
package failure

import (
	"errors"
	"fmt"
)

// Signature identifies a known failure category.
type Signature string

const (
	// SeedingTimeout means the package-manager daemon never finished its
	// asynchronous first-run seeding within the configured attempt budget.
	SeedingTimeout Signature = "seeding-timeout"

	// SnapdUnavailable means the daemon could not be installed or started.
	SnapdUnavailable Signature = "snapd-unavailable"

	// VMCreateFailed means the VM manager's launch operation failed.
	VMCreateFailed Signature = "vm-create-failed"

	// VMNetworkTimeout means outbound connectivity from inside a created VM
	// never came up within the attempt budget.
	VMNetworkTimeout Signature = "vm-network-timeout"

	// NoUsableImage means no catalog entry matched any image tier.
	NoUsableImage Signature = "no-usable-image"

	// PreconditionFailed means a required command, network path, or privilege
	// level check failed before any work started.
	PreconditionFailed Signature = "precondition-failed"

	// Generic is the signature of errors raised without one.
	Generic Signature = "generic"
)

// Error is an error with an attached Signature.
type Error struct {
	Sig Signature
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given signature.
func New(sig Signature, err error) error {
	return &Error{Sig: sig, Err: err}
}

// Newf builds a signed error from a format string.
func Newf(sig Signature, format string, args ...any) error {
	return &Error{Sig: sig, Err: fmt.Errorf(format, args...)}
}

// SignatureOf returns the signature attached to err, or Generic if the chain
// carries none. The innermost signature wins: the component that raised the
// failure knows its category better than any wrapper above it.
func SignatureOf(err error) Signature {
	sig := Generic
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			break
		}
		sig = fe.Sig
		err = fe.Err
	}
	return sig
}
