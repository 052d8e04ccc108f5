package terminal

import (
	"errors"
	"strings"
)

var (
	// ErrConnectTimeout indicates no session could be established within
	// the connection timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrCommandTimeout indicates no prompt pattern matched within the
	// per-command timeout. Remaining steps are returned empty.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrTransportError indicates the underlying transport failed.
	ErrTransportError = errors.New("transport error")

	// ErrAuthFailed indicates the device rejected the credential at
	// transport level.
	ErrAuthFailed = errors.New("authentication failed")
)

// IsAuthFailure reports whether an error from DialSSH was an
// authentication rejection rather than a reachability problem.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) {
		return true
	}
	// x/crypto/ssh reports auth failures as plain errors
	return strings.Contains(err.Error(), "unable to authenticate")
}
