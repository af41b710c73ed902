package chord

import (
	"github.com/emirpasic/gods/trees/avltree"
	"github.com/emirpasic/gods/utils"
)

// Keystore is the node-local key/value store. Keys are insert-only and kept
// sorted so listings are stable. Not safe for concurrent use.
type Keystore struct {
	tree *avltree.Tree
}

// NewKeystore returns an empty store.
func NewKeystore() *Keystore {
	return &Keystore{tree: avltree.NewWith(utils.StringComparator)}
}

// Insert stores value under key unless the key is already present.
// It reports whether the value was stored.
func (s *Keystore) Insert(key string, value []byte) bool {
	if _, found := s.tree.Get(key); found {
		return false
	}
	v := make([]byte, len(value)) // copy to avoid aliasing the datagram buffer
	copy(v, value)
	s.tree.Put(key, v)
	return true
}

// Lookup returns a copy of the value stored under key.
func (s *Keystore) Lookup(key string) ([]byte, bool) {
	raw, found := s.tree.Get(key)
	if !found {
		return nil, false
	}
	v := raw.([]byte)
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Keys lists stored keys in ascending order.
func (s *Keystore) Keys() []string {
	keys := make([]string, 0, s.tree.Size())
	for _, k := range s.tree.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Len is the number of stored keys.
func (s *Keystore) Len() int {
	return s.tree.Size()
}
