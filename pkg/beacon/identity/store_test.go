package identity_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/beacon/pkg/beacon/event"
	"github.com/randalmurphal/beacon/pkg/beacon/identity"
)

var lastSeen = time.Date(2026, 5, 4, 8, 15, 0, 123, time.UTC)

type storeFactory func(t *testing.T) identity.Store

func sampleProfile() identity.Profile {
	return identity.Profile{
		AnonymousID: "anon-1",
		UserID:      "user-1",
		Traits: event.Properties{
			"plan":  event.String("pro"),
			"seats": event.Int(5),
			"trial": event.Bool(false),
			"owner": event.Null(),
		},
		LastSeen: lastSeen,
	}
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	t.Run(name+"/Save_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save("proj", sampleProfile()))

		got, err := store.Load("proj")
		require.NoError(t, err)
		assert.Equal(t, "anon-1", got.AnonymousID)
		assert.Equal(t, "user-1", got.UserID)
		assert.True(t, lastSeen.Equal(got.LastSeen))
		assert.Equal(t, sampleProfile().Traits, got.Traits)
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load("nope")
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})

	t.Run(name+"/Save_Overwrite", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save("proj", sampleProfile()))
		require.NoError(t, store.Save("proj", identity.Profile{AnonymousID: "anon-2", LastSeen: lastSeen}))

		got, err := store.Load("proj")
		require.NoError(t, err)
		assert.Equal(t, "anon-2", got.AnonymousID)
		assert.Empty(t, got.UserID)
		assert.Empty(t, got.Traits)
	})

	t.Run(name+"/Projects_Isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save("a", identity.Profile{AnonymousID: "anon-a", LastSeen: lastSeen}))
		require.NoError(t, store.Save("b", identity.Profile{AnonymousID: "anon-b", LastSeen: lastSeen}))

		got, err := store.Load("a")
		require.NoError(t, err)
		assert.Equal(t, "anon-a", got.AnonymousID)
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save("proj", sampleProfile()))
		require.NoError(t, store.Delete("proj"))
		_, err := store.Load("proj")
		assert.ErrorIs(t, err, identity.ErrNotFound)

		assert.NoError(t, store.Delete("never-saved"))
	})

	t.Run(name+"/Saved_Copy_Isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		p := sampleProfile()
		require.NoError(t, store.Save("proj", p))
		p.Traits["plan"] = event.String("free")

		got, err := store.Load("proj")
		require.NoError(t, err)
		assert.Equal(t, "pro", got.Traits["plan"].AsString())
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close(), "close is idempotent")

		_, err := store.Load("proj")
		assert.ErrorIs(t, err, identity.ErrStoreClosed)
		assert.ErrorIs(t, store.Save("proj", sampleProfile()), identity.ErrStoreClosed)
		assert.ErrorIs(t, store.Delete("proj"), identity.ErrStoreClosed)
	})

	t.Run(name+"/Concurrent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				project := fmt.Sprintf("p%d", i%4)
				assert.NoError(t, store.Save(project, identity.Profile{AnonymousID: project, LastSeen: lastSeen}))
				_, err := store.Load(project)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
	})
}

func TestMemoryStore(t *testing.T) {
	storeContractTest(t, "memory", func(t *testing.T) identity.Store {
		return identity.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContractTest(t, "sqlite", func(t *testing.T) identity.Store {
		store, err := identity.NewSQLiteStore(filepath.Join(t.TempDir(), "identity.db"))
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	store1, err := identity.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store1.Save("proj", sampleProfile()))
	require.NoError(t, store1.Close())

	store2, err := identity.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 5.0, got.Traits["seats"].AsNumber())
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := identity.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("proj", sampleProfile()))
	_, err = store.Load("proj")
	assert.NoError(t, err)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := identity.NewSQLiteStore("/nonexistent/path/identity.db")
	assert.Error(t, err)
}
