// ABOUTME: Tests for the SQLite session store
// ABOUTME: Covers upsert idempotence, replacement semantics, and corrupt-row handling

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string) *Session {
	return &Session{
		ID:      id,
		AppName: "woodstock",
		UserID:  "user-1",
		Events: []Event{
			{ID: "evt-1", Author: "user-1", Content: "hello", Timestamp: time.Now().UTC()},
		},
		State:     map[string]any{"is_read": false},
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSQLiteStore_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpsertThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	sess := testSession("s1")
	require.NoError(t, s.UpsertSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "woodstock", got.AppName)
	assert.Equal(t, "user-1", got.UserID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "hello", got.Events[0].Content)
	assert.Equal(t, false, got.State["is_read"])
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	sess := testSession("s1")
	require.NoError(t, s.UpsertSession(ctx, sess))
	require.NoError(t, s.UpsertSession(ctx, sess))

	sessions, err := s.ListSessions(ctx, "woodstock")
	require.NoError(t, err)
	require.Len(t, sessions, 1, "applying the same upsert twice must leave one row")
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestSQLiteStore_UpsertReplacesFullRow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first := testSession("s1")
	require.NoError(t, s.UpsertSession(ctx, first))

	second := testSession("s1")
	second.Events = append(second.Events, Event{
		ID: "evt-2", Author: "agent", Content: "hi there", Timestamp: time.Now().UTC(),
	})
	second.State = map[string]any{"is_read": true, "ai_paused": true}
	second.UpdatedAt = first.UpdatedAt.Add(time.Second)
	require.NoError(t, s.UpsertSession(ctx, second))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, true, got.State["ai_paused"])
	assert.Equal(t, true, got.State["is_read"])
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.UpsertSession(ctx, testSession("s1")))
	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	require.NoError(t, s.DeleteSession(ctx, "s1"))
}

func TestSQLiteStore_ListSessionsOrdersByUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	old := testSession("old")
	old.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	recent := testSession("recent")
	require.NoError(t, s.UpsertSession(ctx, old))
	require.NoError(t, s.UpsertSession(ctx, recent))

	sessions, err := s.ListSessions(ctx, "woodstock")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "recent", sessions[0].ID)
	assert.Equal(t, "old", sessions[1].ID)
}

func TestSQLiteStore_ListSessionsFiltersByApp(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	sess := testSession("s1")
	other := testSession("s2")
	other.AppName = "other-app"
	require.NoError(t, s.UpsertSession(ctx, sess))
	require.NoError(t, s.UpsertSession(ctx, other))

	sessions, err := s.ListSessions(ctx, "woodstock")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestSQLiteStore_CorruptRowTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, app_name, user_id, events, state, updated_at)
		VALUES ('bad', 'woodstock', 'user-1', '{not json', '{}', ?)`, time.Now().UTC())
	require.NoError(t, err)

	_, err = s.GetSession(ctx, "bad")
	assert.ErrorIs(t, err, ErrNotFound)

	// List skips the corrupt row instead of failing
	require.NoError(t, s.UpsertSession(ctx, testSession("good")))
	sessions, err := s.ListSessions(ctx, "woodstock")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "good", sessions[0].ID)
}

func TestSQLiteStore_Ping(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(t.Context()))
}
