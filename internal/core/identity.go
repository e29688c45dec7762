package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is the stable account reference used for routing. Display names never route.
type Identity int64

// Anonymous is the identity of an unauthenticated handshake.
const Anonymous Identity = 0

// PresenceGroup is the single group every active session joins for online/offline broadcast.
const PresenceGroup = "presence"

const personalGroupPrefix = "chat_"

// IsAnonymous reports whether the identity refers to no account.
func (id Identity) IsAnonymous() bool {
	return id <= 0
}

func (id Identity) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseIdentity parses the decimal form produced by String.
func ParseIdentity(s string) (Identity, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return Anonymous, fmt.Errorf("parse identity %q: %w", s, err)
	}
	if v <= 0 {
		return Anonymous, fmt.Errorf("parse identity %q: not positive", s)
	}
	return Identity(v), nil
}

// PersonalGroup returns the direct-delivery group name for an identity.
func PersonalGroup(id Identity) string {
	return personalGroupPrefix + id.String()
}

// personalGroupOwner returns the identity a personal group belongs to.
func personalGroupOwner(group string) (Identity, bool) {
	rest, ok := strings.CutPrefix(group, personalGroupPrefix)
	if !ok {
		return Anonymous, false
	}
	id, err := ParseIdentity(rest)
	if err != nil {
		return Anonymous, false
	}
	return id, true
}
