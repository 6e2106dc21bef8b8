package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/index"
	"github.com/cuemby/burrow/pkg/types"
)

// TestFullDocumentLifecycle drives a document through its whole life:
// insert, indexed queries, updates, soft delete, undelete, TTL purge,
// with a reopen in the middle to prove everything is durable.
func TestFullDocumentLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EncryptionPassphrase = "integration-secret"
	cfg.TTL = 7 * 24 * time.Hour
	ctx := context.Background()

	eng, err := engine.Open(cfg)
	require.NoError(t, err)

	users, err := eng.Collection("users")
	require.NoError(t, err)
	_, err = users.CreateIndex([]string{"email"}, true)
	require.NoError(t, err)
	_, err = users.CreateIndex([]string{"org", "role"}, false)
	require.NoError(t, err)

	// Seed through a mix of single operations and a batch.
	_, err = users.Insert(ctx, "u1", map[string]any{
		"email": "ada@example.com", "org": "acme", "role": "admin",
	})
	require.NoError(t, err)
	_, err = users.BatchUpsert(ctx, map[string]map[string]any{
		"u2": {"email": "grace@example.com", "org": "acme", "role": "dev"},
		"u3": {"email": "alan@example.com", "org": "umbrella", "role": "dev"},
	})
	require.NoError(t, err)

	// The unique index holds across operation styles.
	_, err = users.Insert(ctx, "u4", map[string]any{"email": "ada@example.com"})
	require.True(t, types.IsConstraintViolation(err))

	// Compound index query.
	devs, err := users.Query("org,role", index.Predicate{Op: index.Eq, Key: []any{"acme", "dev"}})
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "u2", devs[0].ID)

	// A few updates to accumulate history.
	for i := 2; i <= 4; i++ {
		_, err = users.Update(ctx, "u1", map[string]any{"logins": float64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, users.SoftDelete(ctx, "u2"))

	// Everything above must survive a full close and reopen.
	require.NoError(t, eng.Close())
	eng, err = engine.Open(cfg)
	require.NoError(t, err)
	defer eng.Close()
	users, err = eng.Collection("users")
	require.NoError(t, err)

	doc, err := users.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), doc.Version)
	assert.Equal(t, float64(4), doc.Value["logins"])

	_, err = users.Get("u2")
	assert.ErrorIs(t, err, types.ErrDocumentDeleted)

	history, err := users.History("u1")
	require.NoError(t, err)
	assert.Len(t, history, 4)

	// Rollback is a forward mutation carrying the old value.
	doc, err = users.Rollback(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc.Version)
	assert.NotContains(t, doc.Value, "logins")

	// u2 was deleted within the undelete window; restore it.
	restored, err := users.Undelete(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", restored.Value["email"])

	// u3 deleted now stays through a 6-day sweep and falls to an
	// 8-day sweep.
	require.NoError(t, users.SoftDelete(ctx, "u3"))
	purged, err := users.Sweep(ctx, time.Now().Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged)
	purged, err = users.Sweep(ctx, time.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, err = users.Get("u3")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	// The freed unique key is reusable.
	_, err = users.Insert(ctx, "u5", map[string]any{"email": "alan@example.com"})
	assert.NoError(t, err)
}

// TestConcurrentMixedWorkload hammers one collection with concurrent
// writers and readers and verifies the end state is exact.
func TestConcurrentMixedWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ctx := context.Background()

	eng, err := engine.Open(cfg)
	require.NoError(t, err)
	defer eng.Close()

	col, err := eng.Collection("counters")
	require.NoError(t, err)

	const writers = 6
	const docsPerWriter = 20

	errCh := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			for i := 0; i < docsPerWriter; i++ {
				id := fmt.Sprintf("c-%d-%d", w, i)
				if _, err := col.Insert(ctx, id, map[string]any{"w": float64(w)}); err != nil {
					errCh <- err
					return
				}
				if _, err := col.Update(ctx, id, map[string]any{"touched": true}); err != nil {
					errCh <- err
					return
				}
			}
			errCh <- nil
		}(w)
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-errCh)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < docsPerWriter; i++ {
			doc, err := col.Get(fmt.Sprintf("c-%d-%d", w, i))
			require.NoError(t, err)
			assert.Equal(t, int64(2), doc.Version)
			assert.Equal(t, true, doc.Value["touched"])
		}
	}
}
