package domain

import "errors"

var (
	// ErrAccountNotFound is returned when no account has the requested id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrIdentityTaken is returned when another account already uses the identity.
	ErrIdentityTaken = errors.New("account identity already taken")
	// ErrAccountExpired is returned when an operation would revive an expired account.
	ErrAccountExpired = errors.New("account expired")
	// ErrInvalidIdentity is returned for identities the router would not accept.
	ErrInvalidIdentity = errors.New("invalid account identity")
	// ErrInvalidMaxDevices is returned when MaxDevices is outside 1..10.
	ErrInvalidMaxDevices = errors.New("max devices must be between 1 and 10")
)

// ErrNotProvisioned is returned when an operation needs the router credential of an account that has none yet.
var ErrNotProvisioned = errors.New("account not provisioned on the device")
