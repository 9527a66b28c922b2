package transport

import "fmt"

// IdentityMismatchError reports that an envelope could not be decrypted
// because the sender's identity key changed. Messages failing this way are
// quarantined for manual approval, never silently retried or dropped.
type IdentityMismatchError struct {
	Address string
	Device  int
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch for %s (device %d)", e.Address, e.Device)
}

// UntrustedIdentityError reports that an outbound send was rejected because
// the recipient's identity key is no longer trusted.
type UntrustedIdentityError struct {
	Address string
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %s", e.Address)
}

// InvalidMessageError reports a corrupt or garbled envelope. Such messages
// are reported and dropped; there is no recovery path.
type InvalidMessageError struct {
	Reason string
	Err    error
}

func (e *InvalidMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

func (e *InvalidMessageError) Unwrap() error { return e.Err }
