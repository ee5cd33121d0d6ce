// Package ids generates identifiers for live reload events and browser
// sessions.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// Event returns a lexicographically sortable identifier. IDs from one
// process are strictly increasing, so browsers can order events by id.
func Event() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Session returns a random identifier for a connected browser.
func Session() string {
	return uuid.NewString()
}
