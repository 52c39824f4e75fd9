package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "period:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "period:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.TryLock(ctx, "period:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	release()
	_, ok, err = l.TryLock(ctx, "period:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerExpires(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	staleRelease, ok, err := l.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = l.TryLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// a stale holder must not release the new owner's lock
	staleRelease()
	_, ok, err = l.TryLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLockerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewMemoryLocker().TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
