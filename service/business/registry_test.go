package business

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	bound   []string
	unbound []string
}

func (ro *recordingObserver) ConnectionBound(_ context.Context, connectionID, profileID string) {
	ro.mu.Lock()
	ro.bound = append(ro.bound, connectionID+":"+profileID)
	ro.mu.Unlock()
}

func (ro *recordingObserver) ConnectionUnbound(_ context.Context, connectionID, profileID string) {
	ro.mu.Lock()
	ro.unbound = append(ro.unbound, connectionID+":"+profileID)
	ro.mu.Unlock()
}

func TestRegistry_BindAndLookup(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	registry.Bind(ctx, "conn1", "user1")

	profileID, ok := registry.UserOf("conn1")
	require.True(t, ok)
	assert.Equal(t, "user1", profileID)

	connectionID, ok := registry.ConnectionOf("user1")
	require.True(t, ok)
	assert.Equal(t, "conn1", connectionID)

	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_UnknownLookups(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.UserOf("missing")
	assert.False(t, ok)

	_, ok = registry.ConnectionOf("missing")
	assert.False(t, ok)
}

func TestRegistry_LastBindWins(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	registry.Bind(ctx, "conn1", "user1")
	registry.Bind(ctx, "conn2", "user1")

	connectionID, ok := registry.ConnectionOf("user1")
	require.True(t, ok)
	assert.Equal(t, "conn2", connectionID)

	// The displaced connection no longer resolves
	_, ok = registry.UserOf("conn1")
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_RebindSamePairIsNoop(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	observer := &recordingObserver{}
	registry.Subscribe(observer)

	registry.Bind(ctx, "conn1", "user1")
	registry.Bind(ctx, "conn1", "user1")

	assert.Len(t, observer.bound, 1)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_Unbind(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	registry.Bind(ctx, "conn1", "user1")
	registry.Unbind(ctx, "conn1")

	_, ok := registry.UserOf("conn1")
	assert.False(t, ok)
	_, ok = registry.ConnectionOf("user1")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_UnbindUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	observer := &recordingObserver{}
	registry.Subscribe(observer)

	registry.Unbind(ctx, "missing")

	assert.Empty(t, observer.unbound)
}

func TestRegistry_ObserverCallbacks(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	observer := &recordingObserver{}
	registry.Subscribe(observer)

	registry.Bind(ctx, "conn1", "user1")
	registry.Unbind(ctx, "conn1")

	assert.Equal(t, []string{"conn1:user1"}, observer.bound)
	assert.Equal(t, []string{"conn1:user1"}, observer.unbound)
}

func TestRegistry_StaleUnbindDoesNotFireObserver(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()
	observer := &recordingObserver{}
	registry.Subscribe(observer)

	registry.Bind(ctx, "conn1", "user1")
	registry.Bind(ctx, "conn2", "user1")

	// conn1 was displaced; its late close must not report user1 offline
	registry.Unbind(ctx, "conn1")
	assert.Empty(t, observer.unbound)

	connectionID, ok := registry.ConnectionOf("user1")
	require.True(t, ok)
	assert.Equal(t, "conn2", connectionID)

	registry.Unbind(ctx, "conn2")
	assert.Equal(t, []string{"conn2:user1"}, observer.unbound)
}

func TestRegistry_Snapshot(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	registry.Bind(ctx, "conn1", "user1")
	registry.Bind(ctx, "conn2", "user2")

	snapshot := registry.Snapshot()
	assert.Equal(t, map[string]string{"user1": "conn1", "user2": "conn2"}, snapshot)

	// Mutating the snapshot must not affect the registry
	delete(snapshot, "user1")
	_, ok := registry.ConnectionOf("user1")
	assert.True(t, ok)
}

func TestRegistry_ConcurrentBindUnbind(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connectionID := fmt.Sprintf("conn%d", n)
			profileID := fmt.Sprintf("user%d", n)
			registry.Bind(ctx, connectionID, profileID)
			if n%2 == 0 {
				registry.Unbind(ctx, connectionID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, registry.Len())
}
