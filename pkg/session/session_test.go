package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/model"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestManagerGetCreatesEmptySession(t *testing.T) {
	m := NewManager(NewMemoryStore())

	sess, err := m.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.History)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestManagerAppendAndHistory(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(factory(t))
			ctx := context.Background()

			require.NoError(t, m.Append(ctx, "s1",
				model.NewUserMessage("hello"),
				model.NewAssistantMessage("hi there")))
			require.NoError(t, m.Append(ctx, "s1",
				model.NewUserMessage("second question")))

			history, err := m.History(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, "hello", history[0].Content)
			assert.Equal(t, model.RoleAssistant, history[1].Role)

			// Limit keeps the most recent messages.
			tail, err := m.History(ctx, "s1", 2)
			require.NoError(t, err)
			require.Len(t, tail, 2)
			assert.Equal(t, "hi there", tail[0].Content)
			assert.Equal(t, "second question", tail[1].Content)
		})
	}
}

func TestManagerHistoryIsACopy(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "s1", model.NewUserMessage("original")))

	history, err := m.History(ctx, "s1", 0)
	require.NoError(t, err)
	history[0].Content = "mutated"

	again, err := m.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestManagerPersistsAcrossManagers(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			first := NewManager(store)
			require.NoError(t, first.Append(ctx, "s1", model.NewUserMessage("persisted")))

			// A second manager over the same store sees the history.
			second := NewManager(store)
			history, err := second.History(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, "persisted", history[0].Content)
		})
	}
}

func TestManagerDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(factory(t))
			ctx := context.Background()

			require.NoError(t, m.Append(ctx, "s1", model.NewUserMessage("bye")))

			deleted, err := m.Delete(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, deleted)

			history, err := m.History(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Empty(t, history)

			deleted, err = m.Delete(ctx, "never-existed")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, "old", []byte(`{}`)))
	store.touched["old"] = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.SaveSession(ctx, "fresh", []byte(`{}`)))

	count, err := store.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestManagerCleanupEvictsCache(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "stale", model.NewUserMessage("old data")))
	store.touched["stale"] = time.Now().Add(-2 * time.Hour)

	count, err := m.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The evicted session is gone from the cache too, not just the store.
	history, err := m.History(ctx, "stale", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSQLiteStoreCleanupExpired(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, "old", []byte(`{}`)))
	// Backdate the row past the cutoff.
	_, err = store.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-2*time.Hour), "old")
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, "fresh", []byte(`{}`)))

	count, err := store.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	payload, err := store.GetSession(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, payload)
}
