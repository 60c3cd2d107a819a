package session_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/session"
	_ "github.com/campusfleet/campusfleet/testing"
)

func newStore(t *testing.T) (*session.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return session.NewStore(client, time.Hour, logger), mr
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	selected := roles.Role{ID: roles.Driver, Name: "Driver"}
	rec := session.Record{
		Token:        "aaa.bbb.ccc",
		Roles:        []roles.Role{selected, {ID: roles.Dispatcher, Name: "Dispatcher"}},
		SelectedRole: &selected,
		User:         &session.UserProfile{ID: 7, Username: "abebe", FullName: "Abebe Bikila"},
	}
	require.NoError(t, store.Save(ctx, "sid-1", rec))

	loaded, err := store.Load(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, rec.Token, loaded.Token)
	require.Equal(t, rec.Roles, loaded.Roles)
	require.Equal(t, rec.SelectedRole, loaded.SelectedRole)
	require.Equal(t, rec.User, loaded.User)
}

func TestStoreAbsentFieldRemovesEntry(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	selected := roles.Role{ID: roles.Driver, Name: "Driver"}
	rec := session.Record{
		Token:        "aaa.bbb.ccc",
		Roles:        []roles.Role{selected},
		SelectedRole: &selected,
	}
	require.NoError(t, store.Save(ctx, "sid-1", rec))
	require.True(t, mr.Exists("session:sid-1:selected_role"))

	rec.SelectedRole = nil
	require.NoError(t, store.Save(ctx, "sid-1", rec))
	require.False(t, mr.Exists("session:sid-1:selected_role"))
	require.False(t, mr.Exists("session:sid-1:auth_user"))

	loaded, err := store.Load(ctx, "sid-1")
	require.NoError(t, err)
	require.Nil(t, loaded.SelectedRole)
	require.Equal(t, "aaa.bbb.ccc", loaded.Token)
}

func TestStoreCorruptedEntryIsIsolated(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	rec := session.Record{
		Token: "aaa.bbb.ccc",
		Roles: []roles.Role{{ID: roles.Driver, Name: "Driver"}},
		User:  &session.UserProfile{ID: 7, Username: "abebe"},
	}
	require.NoError(t, store.Save(ctx, "sid-1", rec))
	require.NoError(t, mr.Set("session:sid-1:auth_roles", "{definitely not json"))

	loaded, err := store.Load(ctx, "sid-1")
	require.NoError(t, err)
	require.Nil(t, loaded.Roles)
	require.Equal(t, "aaa.bbb.ccc", loaded.Token)
	require.Equal(t, rec.User, loaded.User)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	rec := session.Record{Token: "aaa.bbb.ccc", Roles: []roles.Role{{ID: roles.Staff, Name: "Staff"}}}
	require.NoError(t, store.Save(ctx, "sid-1", rec))

	require.NoError(t, store.Clear(ctx, "sid-1"))
	require.False(t, mr.Exists("session:sid-1:auth_token"))
	require.False(t, mr.Exists("session:sid-1:auth_roles"))

	// Clearing an already empty session is fine.
	require.NoError(t, store.Clear(ctx, "sid-1"))
	require.NoError(t, store.Clear(ctx, "never-existed"))

	loaded, err := store.Load(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, session.Record{}, loaded)
}
