//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

func setupSuite(t *testing.T) (context.Context, *fs.FirestoreStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-state-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewFirestoreStore(client)
}

func TestStateStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Snapshot state lifecycle", func(t *testing.T) {
		id := "iogo.0.users"
		require.NoError(t, store.SetState(ctx, id, dispatch.StringState(`{"alice":"tokA"}`)))

		st, ok, err := store.GetState(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"alice":"tokA"}`, st.Value())

		require.NoError(t, store.DeleteState(ctx, id))
		_, ok, err = store.GetState(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Token rescan", func(t *testing.T) {
		require.NoError(t, store.SetState(ctx, "iogo.0.alice.token", dispatch.StringState("tokA")))
		require.NoError(t, store.SetState(ctx, "iogo.0.bob.token", dispatch.StringState("tokB")))
		require.NoError(t, store.SetState(ctx, "iogo.0.info", dispatch.StringState("x")))
		require.NoError(t, store.SetState(ctx, "iogo.1.carol.token", dispatch.StringState("tokC")))

		found, err := store.ScanStates(ctx, "iogo.0.", ".token")
		require.NoError(t, err)

		assert.Len(t, found, 2)
		alice := found["iogo.0.alice.token"]
		assert.Equal(t, "tokA", alice.Value())
	})

	t.Run("Cleared state keeps a nil value", func(t *testing.T) {
		require.NoError(t, store.SetState(ctx, "iogo.0.dave.token", dispatch.State{Ack: true}))

		st, ok, err := store.GetState(ctx, "iogo.0.dave.token")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, st.Val)
	})
}
