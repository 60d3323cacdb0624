package rconn

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts is the number of consecutive failed connection attempts
// after which a record is abandoned.
const DefaultMaxAttempts = 3

// Policy is the retry and scanning behavior applied to one [PeerConnection].
// Each record carries its own copy,
// so different endpoints may be treated differently.
type Policy struct {
	// Consecutive failures allowed before the record is abandoned.
	MaxAttempts int

	// How long to pause active scanning after this endpoint disconnects.
	// Zero disables the pause.
	ScanCooldown time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts}
}

// Validate returns an error describing every invalid field in p.
func (p Policy) Validate() error {
	var err error
	if p.MaxAttempts <= 0 {
		err = errors.Join(err, fmt.Errorf(
			"MaxAttempts must be positive (got %d)", p.MaxAttempts,
		))
	}
	if p.ScanCooldown < 0 {
		err = errors.Join(err, fmt.Errorf(
			"ScanCooldown must not be negative (got %s)", p.ScanCooldown,
		))
	}
	return err
}
