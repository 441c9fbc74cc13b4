package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tozd/identifier"

	"gitlab.com/continent/continent/errs"
	internal "gitlab.com/continent/continent/internal/store"
	"gitlab.com/continent/continent/store"
)

func initStore(t *testing.T) (context.Context, *store.Store) {
	t.Helper()

	if os.Getenv("POSTGRES") == "" {
		t.Skip("POSTGRES is not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	schema := identifier.New().String()

	dbpool, errE := internal.InitPostgres(ctx, os.Getenv("POSTGRES"), schema, logger)
	require.NoError(t, errE, "% -+#.1v", errE)

	s := store.New(dbpool, nil)
	errE = s.Init(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)

	return ctx, s
}

func row(id string, fields map[string]any) store.Row {
	r := store.Row{"id": id}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func TestUpsertVersionIdempotentAndMismatch(t *testing.T) {
	ctx, s := initStore(t)

	rec := store.VersionRecord{
		DatasetID: "d1",
		Version:   "v1.aaaaaaaa",
		Checksum:  "checksum-1",
		TS:        1000,
		Status:    store.StatusReady,
	}

	errE := s.UpsertVersion(ctx, rec)
	require.NoError(t, errE, "% -+#.1v", errE)

	// Same checksum: no-op, not an error.
	errE = s.UpsertVersion(ctx, rec)
	assert.NoError(t, errE, "% -+#.1v", errE)

	// Different checksum against an existing ready row: ChecksumMismatch.
	divergent := rec
	divergent.Checksum = "checksum-2"
	errE = s.UpsertVersion(ctx, divergent)
	assert.ErrorIs(t, errE, errs.ErrChecksumMismatch)

	got, ok, errE := s.GetVersion(ctx, "d1", "v1.aaaaaaaa")
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, ok)
	assert.Equal(t, "checksum-1", got.Checksum)
}

func TestCommitVersionReplacesRowsAtomically(t *testing.T) {
	ctx, s := initStore(t)

	rows := []store.Row{row("1", map[string]any{"s": "a"}), row("2", map[string]any{"s": "b"})}

	rec := store.VersionRecord{
		DatasetID: "d1",
		Version:   "v1.aaaaaaaa",
		Checksum:  "checksum-1",
		TS:        1000,
		Status:    store.StatusReady,
	}

	errE := s.CommitVersion(ctx, rec, rows)
	require.NoError(t, errE, "% -+#.1v", errE)

	got, errE := s.GetRows(ctx, "d1", "v1.aaaaaaaa")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Len(t, got, 2)

	latest, ok, errE := s.LatestReadyVersion(ctx, "d1")
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, ok)
	assert.Equal(t, "v1.aaaaaaaa", latest)
}

func TestAppendDeltasReplacesPriorDeltas(t *testing.T) {
	ctx, s := initStore(t)

	deltas := []store.DeltaRecord{
		{DatasetID: "d1", Version: "v1.aaaaaaaa", Kind: store.DeltaAdd, ItemID: "1", NewItem: row("1", nil), TS: 1000},
		{DatasetID: "d1", Version: "v1.aaaaaaaa", Kind: store.DeltaAdd, ItemID: "2", NewItem: row("2", nil), TS: 1000},
	}

	errE := s.AppendDeltas(ctx, "d1", "v1.aaaaaaaa", deltas)
	require.NoError(t, errE, "% -+#.1v", errE)

	// Re-invocation on the same (dataset, version) must not double-insert.
	errE = s.AppendDeltas(ctx, "d1", "v1.aaaaaaaa", deltas)
	require.NoError(t, errE, "% -+#.1v", errE)

	got, errE := s.GetDeltas(ctx, "d1", "v1.aaaaaaaa")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Len(t, got, 2)
}

func TestUserContextAndView(t *testing.T) {
	ctx, s := initStore(t)

	uc := store.UserContext{
		UserID:    "u1",
		DatasetID: "d1",
		Filters:   map[string]any{"status": []any{"new"}},
		Sort:      &store.SortDescriptor{By: "amount", Desc: true},
		TS:        1000,
	}
	errE := s.UpsertUserContext(ctx, uc)
	require.NoError(t, errE, "% -+#.1v", errE)

	got, ok, errE := s.GetUserContext(ctx, "u1", "d1")
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, ok)
	require.NotNil(t, got.Sort)
	assert.Equal(t, "amount", got.Sort.By)
	assert.True(t, got.Sort.Desc)

	views := []store.ProjectedRow{
		{UserID: "u1", DatasetID: "d1", Version: "v1.aaaaaaaa", Item: row("3", map[string]any{"amount": 1500}), TS: 1000},
	}
	errE = s.ReplaceUserView(ctx, "u1", "d1", "v1.aaaaaaaa", views)
	require.NoError(t, errE, "% -+#.1v", errE)

	gotViews, errE := s.GetUserView(ctx, "u1", "d1")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Len(t, gotViews, 1)
}
