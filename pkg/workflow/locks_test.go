package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/xbzone/pkg/engine"
)

func newTestLockManager(timeout time.Duration) *LockManager {
	return NewLockManager(zerolog.Nop(), map[engine.LockTimeoutClass]time.Duration{
		engine.LockTimeoutVPlexBackendExport: timeout,
	}, nil)
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeKeys([]string{"c", "", "a", "b", "a"}))
	assert.Empty(t, NormalizeKeys(nil))
}

func TestResolveTimeout(t *testing.T) {
	timeouts := map[engine.LockTimeoutClass]time.Duration{
		engine.LockTimeoutVPlexBackendExport: time.Minute,
	}
	assert.Equal(t, time.Minute, ResolveTimeout(timeouts, engine.LockTimeoutVPlexBackendExport))
	assert.Equal(t, DefaultLockTimeout, ResolveTimeout(timeouts, "other"))

	timeouts[engine.LockTimeoutDefault] = 2 * time.Minute
	assert.Equal(t, 2*time.Minute, ResolveTimeout(timeouts, "other"))
}

func TestLockManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := newTestLockManager(time.Second)

	require.NoError(t, m.AcquireStepLocks(ctx, "s1", []string{"h1::a1", "h2::a1"}, engine.LockTimeoutVPlexBackendExport))
	owner, ok := m.Holder("h1::a1")
	require.True(t, ok)
	assert.Equal(t, "s1", owner)

	// re-entrant
	require.NoError(t, m.AcquireStepLocks(ctx, "s1", []string{"h1::a1"}, engine.LockTimeoutVPlexBackendExport))

	require.NoError(t, m.ReleaseStepLocks(ctx, "s1"))
	_, ok = m.Holder("h1::a1")
	assert.False(t, ok)
}

func TestLockManager_Timeout(t *testing.T) {
	ctx := context.Background()
	m := newTestLockManager(20 * time.Millisecond)

	require.NoError(t, m.AcquireStepLocks(ctx, "s1", []string{"h1::a1"}, engine.LockTimeoutVPlexBackendExport))

	err := m.AcquireStepLocks(ctx, "s2", []string{"h0::a1", "h1::a1"}, engine.LockTimeoutVPlexBackendExport)
	require.Error(t, err)
	assert.True(t, engine.IsLockTimeout(err))

	// all or nothing
	_, ok := m.Holder("h0::a1")
	assert.False(t, ok)
}

func TestLockManager_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	m := newTestLockManager(time.Second)

	require.NoError(t, m.AcquireStepLocks(ctx, "s1", []string{"h1::a1"}, engine.LockTimeoutVPlexBackendExport))

	done := make(chan error, 1)
	go func() {
		done <- m.AcquireStepLocks(ctx, "s2", []string{"h1::a1"}, engine.LockTimeoutVPlexBackendExport)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.ReleaseStepLocks(ctx, "s1"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second step never acquired the lock")
	}

	owner, _ := m.Holder("h1::a1")
	assert.Equal(t, "s2", owner)
}

func TestLockManager_ContextCancelled(t *testing.T) {
	m := newTestLockManager(time.Minute)
	require.NoError(t, m.AcquireStepLocks(context.Background(), "s1", []string{"k"}, engine.LockTimeoutDefault))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.AcquireStepLocks(ctx, "s2", []string{"k"}, engine.LockTimeoutDefault)
	assert.True(t, engine.IsLockTimeout(err))
}
