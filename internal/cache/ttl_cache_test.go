package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int]().WithClock(func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)

	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTLCache_PurgeAndDelete(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int]().WithClock(func() time.Time { return now })
	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 2, c.Len())

	c.Delete("b")
	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestNoopCache(t *testing.T) {
	var c Cache[string, int] = NoopCache[string, int]{}
	c.Set("a", 1, time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
}
