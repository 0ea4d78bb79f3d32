package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joanabot/internal/conversation/history"
	logx "joanabot/pkg/logx"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func drivers(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	open := func(cfg Config) func() Store {
		return func() Store {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			return st
		}
	}
	return map[string]func() Store{
		"memory": open(Config{Driver: "memory"}),
		"file":   open(Config{Driver: "file", Path: filepath.Join(dir, "hist.json")}),
		"sqlite": open(Config{Driver: "sqlite", Path: filepath.Join(dir, "hist.db"), BusyTimeout: time.Second}),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			_, found, err := st.LoadHistory(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, found)

			h := history.New("alice")
			h.DisplayName = "Maria"
			h.Append(history.RoleUser, "Sou a Maria, tenho frango e arroz", at)
			require.NoError(t, st.SaveHistory(ctx, h))

			h.Append(history.RoleAssistant, "Que tal um arroz de frango?", at.Add(time.Second))
			require.NoError(t, st.SaveHistory(ctx, h))

			got, found, err := st.LoadHistory(ctx, "alice")
			require.NoError(t, err)
			require.True(t, found)
			if diff := cmp.Diff(h, got); diff != "" {
				t.Fatalf("history mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreDoesNotAliasCallerMemory(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			h := history.New("bob")
			h.Append(history.RoleUser, "oi", at)
			require.NoError(t, st.SaveHistory(ctx, h))
			h.Turns[0].Text = "mutated"

			got, _, err := st.LoadHistory(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, "oi", got.Turns[0].Text)
		})
	}
}

func TestStoreShrinkReplacesTurns(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			h := history.New("carol")
			for i := 0; i < 4; i++ {
				h.Append(history.RoleUser, "msg", at.Add(time.Duration(i)*time.Second))
			}
			require.NoError(t, st.SaveHistory(ctx, h))

			h.Turns = h.Turns[2:]
			h.Turns[0].Text = "kept"
			require.NoError(t, st.SaveHistory(ctx, h))

			got, _, err := st.LoadHistory(ctx, "carol")
			require.NoError(t, err)
			require.Len(t, got.Turns, 2)
			assert.Equal(t, "kept", got.Turns[0].Text)
		})
	}
}

func TestListSenders(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			for _, s := range []string{"a", "b", "c"} {
				require.NoError(t, st.SaveHistory(ctx, history.New(s)))
			}
			got, err := st.ListSenders(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
		})
	}
}

func TestSaveRejectsMissingSender(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			assert.Error(t, st.SaveHistory(context.Background(), history.New(" ")))
			assert.Error(t, st.SaveHistory(context.Background(), nil))
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "hist.json")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for _, s := range []string{"z", "y"} {
		h := history.New(s)
		h.Append(history.RoleUser, "oi "+s, at)
		require.NoError(t, st.SaveHistory(ctx, h))
	}
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ListSenders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y"}, got, "first-contact order survives compaction")

	h, found, err := st.LoadHistory(ctx, "y")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "oi y", h.Turns[0].Text)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "hist.db")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	h := history.New("dora")
	h.Append(history.RoleUser, "bolo de cenoura?", at)
	require.NoError(t, st.SaveHistory(ctx, h))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, found, err := st.LoadHistory(ctx, "dora")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bolo de cenoura?", got.Turns[0].Text)
	assert.True(t, at.Equal(got.Turns[0].At))
}

func TestClosedStoreErrors(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Close())
	_, _, err := st.LoadHistory(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Logger{})
	assert.Error(t, err)
}
