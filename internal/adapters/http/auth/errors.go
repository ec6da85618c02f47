package auth

import "errors"

// Authentication failures. All map to 401 at the gateway.
var (
	ErrMissingHeaders = errors.New("missing authentication headers")
	ErrStaleTimestamp = errors.New("timestamp outside replay window")
	ErrUnknownKey     = errors.New("unknown key")
	ErrBadSignature   = errors.New("signature mismatch")
)

// Credential file failures.
var (
	ErrCredentialsMissing = errors.New("credential file missing")
	ErrCredentialsExposed = errors.New("credential file readable by group or others")
	ErrCredentialsInvalid = errors.New("credential file invalid")
)
