package herocache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/herocache"
)

func TestPutRequiresMatchingObservedHandID(t *testing.T) {
	t.Parallel()
	c := herocache.New()

	c.Put(250_000_000_001, 250_000_000_002, "8h5d") // mismatched: must be rejected
	_, ok := c.Get(250_000_000_001)
	assert.False(t, ok)

	c.Put(250_000_000_001, 250_000_000_001, "8h5d")
	got, ok := c.Get(250_000_000_001)
	assert.True(t, ok)
	assert.Equal(t, "8h5d", got)
}

func TestGetReturnsFalseForDifferentHand(t *testing.T) {
	t.Parallel()
	c := herocache.New()
	c.Put(1, 1, "AhAd")

	_, ok := c.Get(2)
	assert.False(t, ok)
}

func TestClearWipesCache(t *testing.T) {
	t.Parallel()
	c := herocache.New()
	c.Put(codec.HandID(1), codec.HandID(1), "AhAd")
	c.Clear()

	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestPutIgnoresEmptyCards(t *testing.T) {
	t.Parallel()
	c := herocache.New()
	c.Put(1, 1, "") // nothing to cache

	_, ok := c.Get(1)
	assert.False(t, ok)
}
