package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOnce(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	key := fmt.Sprintf(KeyDedup, "notifier", "evt-1")
	first, err := SetOnce(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := SetOnce(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, again)

	ok, err := Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(TTLDedup + time.Second)
	ok, err = Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
