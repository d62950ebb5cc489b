// Package domain contains the core concepts of the relay: identities,
// the presence roster, inbound commands and the connection lifecycle.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"slices"
	"strings"
)

// Identity names one user for the duration of a connection. It is supplied
// by the authentication layer and never interpreted by the relay.
type Identity string

// Anonymous is the zero Identity. Connections carrying it are never
// registered and never appear in a Roster.
const Anonymous Identity = ""

// undefinedIdentity is what browser clients send when the user id was never set.
const undefinedIdentity = "undefined"

// ParseIdentity maps a raw handshake value to an Identity.
// Blank values and the literal "undefined" both mean no identity. Any other
// value is kept byte for byte, so " u1" and "u1" are distinct identities.
func ParseIdentity(raw string) Identity {
	if strings.TrimSpace(raw) == "" || raw == undefinedIdentity {
		return Anonymous
	}
	return Identity(raw)
}

func (i Identity) IsAnonymous() bool {
	return i == Anonymous
}

func (i Identity) String() string {
	return string(i)
}

// Roster is the sorted set of identities currently present in the registry.
type Roster []Identity

// NewRoster sorts the given identities. The caller guarantees uniqueness.
func NewRoster(identities []Identity) Roster {
	r := Roster(slices.Clone(identities))
	slices.Sort(r)
	if r == nil {
		r = Roster{}
	}
	return r
}

func (r Roster) Contains(identity Identity) bool {
	_, found := slices.BinarySearch(r, identity)
	return found
}

// Strings returns the roster as the plain list sent on the wire.
func (r Roster) Strings() []string {
	out := make([]string, len(r))
	for i, id := range r {
		out[i] = string(id)
	}
	return out
}
