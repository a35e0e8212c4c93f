package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotKeepsKeysOnOneWorker(t *testing.T) {
	c := &Consumer{workers: 4}

	first := c.slot([]byte("order-1"))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.slot([]byte("order-1")))
	}
	assert.Equal(t, 0, c.slot(nil))

	seen := map[int]bool{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		s := c.slot([]byte(k))
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
		seen[s] = true
	}
	assert.Greater(t, len(seen), 1)

	single := &Consumer{workers: 1}
	assert.Equal(t, 0, single.slot([]byte("order-1")))
}
