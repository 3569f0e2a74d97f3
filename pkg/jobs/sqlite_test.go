package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "jobs", "studio.db"), zerolog.Nop())
	require.NoError(t, err)

	return store, func() { store.Close() }
}

func TestOpen(t *testing.T) {
	t.Run("should require a path", func(t *testing.T) {
		_, err := Open("", zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestSQLiteStore_Update(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("should create a record on first update", func(t *testing.T) {
		err := store.Update(ctx, KindEmail, "p1", "j1", Fields{"status": StatusProcessing, "status_message": "Starting"})
		require.NoError(t, err)

		rec, err := store.Get(ctx, KindEmail, "p1", "j1")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, rec.Status)
		assert.Equal(t, "j1", rec.String("id"))
		assert.Equal(t, "Starting", rec.String("status_message"))
		assert.NotEmpty(t, rec.String("created_at"))
		assert.NotEmpty(t, rec.String("updated_at"))
	})

	t.Run("should merge fields key by key", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, KindEmail, "p1", "j1", Fields{"template_name": "Welcome"}))

		rec, err := store.Get(ctx, KindEmail, "p1", "j1")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, rec.Status, "status is kept when not updated")
		assert.Equal(t, "Starting", rec.String("status_message"))
		assert.Equal(t, "Welcome", rec.String("template_name"))
	})

	t.Run("should stamp updated_at on every update", func(t *testing.T) {
		store.now = func() time.Time { return time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC) }
		defer func() { store.now = time.Now }()

		require.NoError(t, store.Update(ctx, KindEmail, "p1", "j1", Fields{}))

		rec, err := store.Get(ctx, KindEmail, "p1", "j1")
		require.NoError(t, err)
		assert.Equal(t, "2030-01-02T03:04:05Z", rec.String("updated_at"))
		assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))
	})

	t.Run("should keep kinds separate", func(t *testing.T) {
		_, err := store.Get(ctx, KindPresentation, "p1", "j1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should reject missing identifiers", func(t *testing.T) {
		assert.Error(t, store.Update(ctx, KindEmail, "", "j1", Fields{}))
	})
}

func TestSQLiteStore_ConcurrentUpdates(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			assert.NoError(t, store.Update(ctx, KindBusinessReport, "p", "j", Fields{key: i}))
		}(i)
	}
	wg.Wait()

	rec, err := store.Get(ctx, KindBusinessReport, "p", "j")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		assert.Contains(t, rec.Data, string(rune('a'+i)))
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		at := base.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return at }
		require.NoError(t, store.Update(ctx, KindWireframe, "p", id, Fields{"status": StatusReady}))
	}
	require.NoError(t, store.Update(ctx, KindEmail, "p", "mail", Fields{}))
	require.NoError(t, store.Update(ctx, KindEmail, "other", "mail", Fields{}))

	recs, err := store.List(ctx, "p", KindWireframe)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].JobID)
	assert.Equal(t, "old", recs[1].JobID)

	all, err := store.List(ctx, "p", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordString(t *testing.T) {
	var nilRec *Record
	assert.Equal(t, "", nilRec.String("x"))

	rec := &Record{Data: Fields{"n": 3, "s": "v"}}
	assert.Equal(t, "", rec.String("n"))
	assert.Equal(t, "v", rec.String("s"))
}
