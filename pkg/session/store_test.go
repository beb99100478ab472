package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *User {
	return &User{ID: "u-1", Email: "ada@example.com", Name: "Ada"}
}

func TestNewStore_Snapshots(t *testing.T) {
	store := NewStore(LoadingState())

	assert.True(t, store.Snapshot().IsLoading)
	assert.True(t, store.InitialSnapshot().IsLoading)

	store.SetUser(testUser())

	assert.False(t, store.Snapshot().IsLoading)
	assert.True(t, store.Snapshot().IsAuthenticated())
	assert.True(t, store.InitialSnapshot().IsLoading, "initial snapshot must not follow live state")
	assert.False(t, store.InitialSnapshot().IsAuthenticated())
}

func TestStore_NotifiesInCallOrder(t *testing.T) {
	store := NewStore(LoadingState())

	var seen []State
	unsubscribe := store.Subscribe(func(s State) {
		seen = append(seen, s)
	})
	defer unsubscribe()

	store.BeginCheck()
	store.SetUser(testUser())
	store.SetError("boom")
	store.SetUser(nil)

	require.Len(t, seen, 4)
	assert.True(t, seen[0].IsLoading)
	assert.True(t, seen[1].IsAuthenticated())
	assert.Equal(t, "boom", seen[2].Error)
	assert.False(t, seen[3].IsAuthenticated())

	for _, s := range seen {
		assert.Equal(t, s.User != nil, s.IsAuthenticated())
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	store := NewStore(State{})

	calls := 0
	unsubscribe := store.Subscribe(func(State) { calls++ })

	store.SetLoading(true)
	unsubscribe()
	unsubscribe()
	store.SetLoading(false)

	assert.Equal(t, 1, calls)
}

func TestStore_ListenersSeeSubscriptionOrder(t *testing.T) {
	store := NewStore(State{})

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		store.Subscribe(func(State) { order = append(order, i) })
	}
	store.SetLoading(true)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStore_ResetRestoresInitial(t *testing.T) {
	initial := State{IsLoading: true}
	store := NewStore(initial)

	store.SetUser(testUser())
	store.SetError("failed")
	store.Reset()

	assert.Equal(t, initial, store.Snapshot())
}

func TestStore_FailClearsUser(t *testing.T) {
	store := NewStore(State{})
	store.SetUser(testUser())

	store.Fail("network down")

	snap := store.Snapshot()
	assert.Nil(t, snap.User)
	assert.Equal(t, "network down", snap.Error)
	assert.False(t, snap.IsLoading)
}

func TestStore_BeginCheckClearsError(t *testing.T) {
	store := NewStore(State{})
	store.SetError("old")

	store.BeginCheck()

	snap := store.Snapshot()
	assert.True(t, snap.IsLoading)
	assert.Empty(t, snap.Error)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore(State{})
	u := testUser()
	store.SetUser(u)

	u.Name = "mutated"
	snap := store.Snapshot()
	assert.Equal(t, "Ada", snap.User.Name)

	snap.User.Name = "also mutated"
	assert.Equal(t, "Ada", store.Snapshot().User.Name)
}

func TestStore_CloseDropsListeners(t *testing.T) {
	store := NewStore(State{})

	calls := 0
	store.Subscribe(func(State) { calls++ })
	store.Close()

	store.SetUser(testUser())
	store.Subscribe(func(State) { calls++ })
	store.SetUser(nil)

	assert.Equal(t, 0, calls)
	assert.False(t, store.Snapshot().IsAuthenticated())
}

func TestStore_ConcurrentMutations(t *testing.T) {
	store := NewStore(State{})

	var mu sync.Mutex
	count := 0
	store.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		count++
		assert.Equal(t, s.User != nil, s.IsAuthenticated())
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				store.SetUser(testUser())
			} else {
				store.SetUser(nil)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}

func TestState_JSON(t *testing.T) {
	t.Run("unauthenticated with null error", func(t *testing.T) {
		data, err := json.Marshal(State{IsLoading: true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"user":null,"is_authenticated":false,"is_loading":true,"error":null}`, string(data))
	})

	t.Run("authenticated", func(t *testing.T) {
		data, err := json.Marshal(State{User: testUser()})
		require.NoError(t, err)
		assert.JSONEq(t, `{"user":{"id":"u-1","email":"ada@example.com","name":"Ada"},"is_authenticated":true,"is_loading":false,"error":null}`, string(data))
	})

	t.Run("decode ignores is_authenticated", func(t *testing.T) {
		var s State
		require.NoError(t, json.Unmarshal([]byte(`{"user":null,"is_authenticated":true,"is_loading":false,"error":"x"}`), &s))
		assert.False(t, s.IsAuthenticated())
		assert.Equal(t, "x", s.Error)
	})
}
