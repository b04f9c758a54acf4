// Package ids generates the non-database identifiers used by the service.
package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// ConnectionID returns a live-connection id owned by node. The node prefix lets
// a restarted process find connection ids it left behind.
func ConnectionID(node string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return node + "." + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NodeOf returns the node prefix of a connection id.
func NodeOf(connID string) string {
	i := strings.LastIndexByte(connID, '.')
	if i < 0 {
		return ""
	}
	return connID[:i]
}

// InviteCode returns a one-time contact invite code.
func InviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShareToken returns the public token of a file share link.
func ShareToken() string {
	return uuid.NewString()
}

// RequestID returns an id for correlating log lines of one request.
func RequestID() string {
	return uuid.NewString()
}
