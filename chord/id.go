package chord

import (
	"fmt"
	"hash/fnv"
)

// DefaultBits is the default ring size exponent (m): identifiers live in [0, 2^10).
const DefaultBits = 10

// ID is a position on the identifier ring.
type ID uint64

// Hash maps key onto a ring of 2^bits positions using 32-bit FNV-1a.
func Hash(key string, bits int) ID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return ID(uint64(h.Sum32()) & mask(bits))
}

// Contains reports whether id lies in the clockwise interval (origin, boundary].
// origin == boundary denotes the whole ring.
func Contains(origin, boundary, id ID) bool {
	switch {
	case origin < boundary:
		return origin < id && id <= boundary
	case origin > boundary:
		// wraps past the top of the ring
		return id > origin || id <= boundary
	default:
		return true
	}
}

// FingerStart returns (self + 2^(i-1)) mod 2^bits, the ring position finger i tracks.
func FingerStart(self ID, i, bits int) ID {
	return ID((uint64(self) + uint64(1)<<uint(i-1)) & mask(bits))
}

func mask(bits int) uint64 {
	return uint64(1)<<uint(bits) - 1
}

// Contact is a node identity: its ring position and the address it listens on.
type Contact struct {
	ID   ID     `msgpack:"id"`
	Addr string `msgpack:"addr"`
}

// NewContact derives the contact of the node listening on addr.
func NewContact(addr string, bits int) Contact {
	return Contact{ID: Hash(addr, bits), Addr: addr}
}

func (c Contact) String() string {
	return fmt.Sprintf("%d@%s", c.ID, c.Addr)
}
