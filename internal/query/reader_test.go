package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/outbox"
	"github.com/prabhask5/goalsync/internal/store"
	"github.com/prabhask5/goalsync/internal/syncengine"
)

// fakeSubscriber lets tests drive Reader.onEvent without a full Engine.
type fakeSubscriber struct {
	listeners []syncengine.Listener
}

func (f *fakeSubscriber) Subscribe(l syncengine.Listener) func() {
	f.listeners = append(f.listeners, l)
	idx := len(f.listeners) - 1
	return func() { f.listeners[idx] = nil }
}

func (f *fakeSubscriber) emit(ev syncengine.Event) {
	for _, l := range f.listeners {
		if l != nil {
			l(ev)
		}
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type goalFields struct {
	Name string `json:"name"`
}

func TestReaderQueriesOnConstructionAndReEvent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	log := outbox.New(s, "dev-a", nil)

	_, err := log.Create(ctx, entity.TableGoals, "u1", entity.Fields{"name": "Run 5k"})
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	reader, err := NewReader[goalFields](ctx, sub, s, entity.TableGoals, "u1", nil)
	require.NoError(t, err)

	current := reader.Current()
	require.Len(t, current, 1)
	assert.Equal(t, "Run 5k", current[0].Name)

	_, err = log.Create(ctx, entity.TableGoals, "u1", entity.Fields{"name": "Read a book"})
	require.NoError(t, err)

	// Before the event fires, Current() is still stale.
	assert.Len(t, reader.Current(), 1)

	var notified []goalFields
	reader.OnChange(func(g []goalFields) { notified = g })
	sub.emit(syncengine.Event{Kind: syncengine.EventPostPush})

	assert.Len(t, reader.Current(), 2)
	assert.Len(t, notified, 2)
}

func TestReaderFilterNarrowsResults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	log := outbox.New(s, "dev-a", nil)

	_, err := log.Create(ctx, entity.TableGoals, "u1", entity.Fields{"name": "Run 5k", "archived": true})
	require.NoError(t, err)
	_, err = log.Create(ctx, entity.TableGoals, "u1", entity.Fields{"name": "Read a book", "archived": false})
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	active := func(r *entity.Row) bool {
		archived, _ := r.Get("archived")
		return archived != true
	}
	reader, err := NewReader[goalFields](ctx, sub, s, entity.TableGoals, "u1", active)
	require.NoError(t, err)

	current := reader.Current()
	require.Len(t, current, 1)
	assert.Equal(t, "Read a book", current[0].Name)
}

func TestReaderIgnoresEntityChangedForOtherTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	log := outbox.New(s, "dev-a", nil)
	_, err := log.Create(ctx, entity.TableGoals, "u1", entity.Fields{"name": "Run 5k"})
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	reader, err := NewReader[goalFields](ctx, sub, s, entity.TableGoals, "u1", nil)
	require.NoError(t, err)

	_, err = log.Create(ctx, entity.TableTasks, "u1", entity.Fields{"title": "unrelated"})
	require.NoError(t, err)

	sub.emit(syncengine.Event{Kind: syncengine.EventEntityChanged, Table: entity.TableTasks, ID: "x"})
	assert.Len(t, reader.Current(), 1)
}

func TestWriterDelegatesToOutboxHelpers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	log := outbox.New(s, "dev-a", nil)
	w := NewWriter(log, entity.TableGoals)

	row, err := w.Create(ctx, "u1", entity.Fields{"name": "Run 5k"})
	require.NoError(t, err)

	require.NoError(t, w.SetField(ctx, row.ID, "name", "Run 10k"))
	got, err := s.Get(ctx, entity.TableGoals, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Run 10k", got.Fields["name"])

	require.NoError(t, w.Delete(ctx, row.ID))
	got, err = s.Get(ctx, entity.TableGoals, row.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}
