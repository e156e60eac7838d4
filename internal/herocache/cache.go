// Package herocache implements the per-session hand_id→hero-cards cache
// of spec §4.5.3: it retains hero cards across polls so that a transiently
// unreadable name/extra pointer does not erase information already known
// about the current hand.
//
// The write rule is mandatory and is the entire reason this is its own
// small package rather than a field on Poller: an entry may be written
// only when the writer has proven the buffer's first-entry hand_id equals
// the hand the cards were read from, simultaneously, from the same
// buffer. Caching under an unverified hand_id reproduces the
// wrong-cards-for-new-hand bug the container correctness guard (spec
// §4.4) exists to prevent.
package herocache

import "github.com/apmlabs/memscan-core/internal/codec"

// Cache holds at most one hero-cards string at a time: the one belonging
// to the hand currently being tracked. It is owned by the poller; it has
// no locking of its own and no snapshot accessor.
type Cache struct {
	handID codec.HandID
	cards  string
	known  bool
}

// New returns an empty cache.
func New() *Cache { return &Cache{} }

// Put stores cards for handID, but only if the caller asserts that these
// cards were observed from a buffer whose first entry's hand_id is
// exactly handID at the moment of the read. Callers must pass
// observedHandID from the same decode pass that produced cards — never a
// previously cached or assumed value.
func (c *Cache) Put(handID, observedHandID codec.HandID, cards string) {
	if cards == "" {
		return
	}
	if handID != observedHandID {
		return
	}
	c.handID = handID
	c.cards = cards
	c.known = true
}

// Get returns the cached cards for handID, if any. It never returns cards
// cached under a different hand_id.
func (c *Cache) Get(handID codec.HandID) (string, bool) {
	if !c.known || c.handID != handID {
		return "", false
	}
	return c.cards, true
}

// Clear wipes the cache. Called only when a NewHand is emitted (spec
// §4.5.3: "never on any other occasion").
func (c *Cache) Clear() {
	c.handID = 0
	c.cards = ""
	c.known = false
}
