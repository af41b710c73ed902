package chord

// FingerTable keeps one contact per power-of-two offset ahead of self.
// Entry i (1-indexed) tracks the owner of FingerStart(self, i).
// It is not safe for concurrent use; the owning Node serialises access.
type FingerTable struct {
	self    ID
	bits    int
	entries []Contact
}

// RefreshTarget is one finger that stabilisation should look up again.
type RefreshTarget struct {
	Index int
	Start ID
	Addr  string
}

// NewFingerTable returns a table of bits entries, all pointing at self.
func NewFingerTable(self Contact, bits int) *FingerTable {
	fingerTable := &FingerTable{
		self:    self.ID,
		bits:    bits,
		entries: make([]Contact, bits),
	}
	fingerTable.Fill(self)
	return fingerTable
}

// Fill points every entry at c. Used right after a join, when c is the only peer known.
func (fingerTable *FingerTable) Fill(c Contact) {
	for i := range fingerTable.entries {
		fingerTable.entries[i] = c
	}
}

// Update overwrites entry index (1-indexed). It reports false for an index outside 1..bits.
func (fingerTable *FingerTable) Update(index int, c Contact) bool {
	if index < 1 || index > len(fingerTable.entries) {
		return false
	}
	fingerTable.entries[index-1] = c
	return true
}

// Find returns the address of the closest known node preceding target.
//
// Entries are scanned in order; at the first entry already responsible for
// (or past) target, the previous entry is returned. A hit on the first entry
// returns that entry: it is our successor and owns target. Without a hit the
// last entry is the best remaining guess.
func (fingerTable *FingerTable) Find(target ID) string {
	for i, entry := range fingerTable.entries {
		if Contains(fingerTable.self, entry.ID, target) {
			if i == 0 {
				return entry.Addr
			}
			return fingerTable.entries[i-1].Addr
		}
	}
	return fingerTable.entries[len(fingerTable.entries)-1].Addr
}

// RefreshTargets lists every finger with the ring position it should track
// and the address currently cached for it.
func (fingerTable *FingerTable) RefreshTargets() []RefreshTarget {
	targets := make([]RefreshTarget, 0, len(fingerTable.entries))
	for i, entry := range fingerTable.entries {
		targets = append(targets, RefreshTarget{
			Index: i + 1,
			Start: FingerStart(fingerTable.self, i+1, fingerTable.bits),
			Addr:  entry.Addr,
		})
	}
	return targets
}

// IndexForID returns the smallest index whose interval (self, start] covers id.
// ok is false when no finger covers it (id == self, or an answer from outside the ring).
func (fingerTable *FingerTable) IndexForID(id ID) (index int, ok bool) {
	if id > ID(mask(fingerTable.bits)) {
		return 0, false
	}
	for i := 1; i <= len(fingerTable.entries); i++ {
		if Contains(fingerTable.self, FingerStart(fingerTable.self, i, fingerTable.bits), id) {
			return i, true
		}
	}
	return 0, false
}

// Entry returns the contact at index (1-indexed).
func (fingerTable *FingerTable) Entry(index int) (Contact, bool) {
	if index < 1 || index > len(fingerTable.entries) {
		return Contact{}, false
	}
	return fingerTable.entries[index-1], true
}

// Entries returns a copy of all entries in index order.
func (fingerTable *FingerTable) Entries() []Contact {
	out := make([]Contact, len(fingerTable.entries))
	copy(out, fingerTable.entries)
	return out
}

// Len is the number of entries (the ring bits).
func (fingerTable *FingerTable) Len() int {
	return len(fingerTable.entries)
}
