// Package singleinstance gives a process exclusive ownership of a named
// resource on this machine through a loopback TCP listener.
//
// Each name hashes to a home port in the configured range. The holder answers
// PING with its name, so a claimer can tell the owner of its own name from a
// lease for a different name (or an unrelated program) on the same port and
// move on to the next one.
package singleinstance

import (
	"errors"
)

// ErrOwned is returned by Claim when another process holds the name.
var ErrOwned = errors.New("resource owned by another process")

// ErrNoPort is returned by Claim when every port in the range is taken.
var ErrNoPort = errors.New("no free lease port")

// Lease is held until Release. Releasing twice is a no-op.
type Lease interface {
	Name() string
	// Port returns the bound loopback port.
	Port() int
	Release() error
}

// Claim acquires name or fails with an error wrapping ErrOwned.
func Claim(name string) (Lease, error) { return claimTCP(name) }
