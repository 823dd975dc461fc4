package isclient

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVersion is returned by New and ParseVersion for an unrecognized API version.
var ErrUnknownVersion = errors.New("unknown identity API version")

// Version selects one generation of the identity server API. Version 1 is anonymous; version 2
// authenticates every call with the bearer token of a registered account.
type Version struct {
	name          string
	root          string
	authenticated bool
}

var (
	V1 = Version{name: "v1", root: "/_matrix/identity/api/v1"}
	V2 = Version{name: "v2", root: "/_matrix/identity/v2", authenticated: true}
)

// ParseVersion accepts "v1", "v2", "1" or "2".
func ParseVersion(s string) (Version, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "v") {
	case "1":
		return V1, nil
	case "2":
		return V2, nil
	}
	return Version{}, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
}

func (v Version) String() string { return v.name }

// Root is the path prefix of every endpoint in this version.
func (v Version) Root() string { return v.root }

// Authenticated is true if this version uses bearer-token accounts.
func (v Version) Authenticated() bool { return v.authenticated }
