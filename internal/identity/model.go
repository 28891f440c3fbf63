package identity

import "time"

// Peer is an identity key that has completed at least one handshake.
type Peer struct {
	ID          string
	IdentityKey string
	Connections int
	FirstSeen   time.Time
	LastSeen    time.Time
}
