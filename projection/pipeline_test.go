package projection_test

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tozd/identifier"

	"gitlab.com/continent/continent/cache"
	internal "gitlab.com/continent/continent/internal/store"
	"gitlab.com/continent/continent/projection"
	"gitlab.com/continent/continent/store"
	"gitlab.com/continent/continent/workflow"
)

func initPipeline(t *testing.T) (context.Context, *projection.Pipeline, *store.Store, *workflow.Engine) {
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

	wfStore := workflow.NewStore(dbpool, nil)
	errE = wfStore.Init(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)

	engine := workflow.NewEngine(wfStore, 2, logger)
	pipeline := &projection.Pipeline{
		Store:  s,
		Cache:  cache.New(cache.NewMemBackend()),
		Logger: logger,
	}

	return ctx, pipeline, s, engine
}

func row(id string, fields map[string]any) store.Row {
	r := store.Row{"id": id}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func TestProjectViewWithoutReadyVersionProducesNothing(t *testing.T) {
	ctx, pipeline, _, engine := initPipeline(t)

	run := workflow.Run{ID: "proj-1", Kind: "projection", DatasetID: "D1", Version: ""}
	result, errE := pipeline.Run(ctx, engine, run, projection.StoreContextRequest{UserID: "u1", DatasetID: "D1", TS: 1000})
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.False(t, result.ProjectView.Produced)
}

func TestProjectViewFilterAndSort(t *testing.T) {
	ctx, pipeline, s, engine := initPipeline(t)

	rec := store.VersionRecord{
		DatasetID:     "D2",
		Version:       "v1.aaaaaaaa",
		Checksum:      "c",
		TS:            1000,
		ParentVersion: nil,
		DiffChecksum:  nil,
		Status:        store.StatusReady,
	}
	rows := []store.Row{
		row("1", map[string]any{"status": "new", "country": "IN", "amount": float64(1200)}),
		row("2", map[string]any{"status": "shipped", "country": "US", "amount": float64(800)}),
		row("3", map[string]any{"status": "new", "country": "IN", "amount": float64(1500)}),
	}
	errE := s.CommitVersion(ctx, rec, rows)
	require.NoError(t, errE, "% -+#.1v", errE)

	run := workflow.Run{ID: "proj-2", Kind: "projection", DatasetID: "D2", Version: ""}
	req := projection.StoreContextRequest{
		UserID:    "u1",
		DatasetID: "D2",
		Filters:   map[string]any{"status": []any{"new"}, "country": "IN"},
		Sort:      &store.SortDescriptor{By: "amount", Desc: true},
		TS:        1000,
	}
	result, errE := pipeline.Run(ctx, engine, run, req)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, result.ProjectView.Produced)
	assert.Equal(t, 2, result.ProjectView.Count)

	view, errE := s.GetUserView(ctx, "u1", "D2")
	require.NoError(t, errE, "% -+#.1v", errE)
	require.Len(t, view, 2)
	assert.Equal(t, "3", view[0].Item["id"])
	assert.Equal(t, "1", view[1].Item["id"])
}

func TestProjectViewDeterministic(t *testing.T) {
	ctx, pipeline, s, engine := initPipeline(t)

	rec := store.VersionRecord{
		DatasetID:     "D3",
		Version:       "v1.bbbbbbbb",
		Checksum:      "c",
		TS:            1000,
		ParentVersion: nil,
		DiffChecksum:  nil,
		Status:        store.StatusReady,
	}
	rows := []store.Row{
		row("1", map[string]any{"amount": float64(3), "group": "x"}),
		row("2", map[string]any{"amount": float64(1), "group": "x"}),
		row("3", map[string]any{"amount": float64(1), "group": "x"}),
	}
	errE := s.CommitVersion(ctx, rec, rows)
	require.NoError(t, errE, "% -+#.1v", errE)

	req := projection.StoreContextRequest{
		UserID:    "u2",
		DatasetID: "D3",
		Filters:   map[string]any{"group": "x"},
		Sort:      &store.SortDescriptor{By: "amount", Desc: false},
		TS:        1000,
	}

	run1 := workflow.Run{ID: "proj-det-1", Kind: "projection", DatasetID: "D3", Version: ""}
	_, errE = pipeline.Run(ctx, engine, run1, req)
	require.NoError(t, errE, "% -+#.1v", errE)
	first, errE := s.GetUserView(ctx, "u2", "D3")
	require.NoError(t, errE, "% -+#.1v", errE)

	run2 := workflow.Run{ID: "proj-det-2", Kind: "projection", DatasetID: "D3", Version: ""}
	_, errE = pipeline.Run(ctx, engine, run2, req)
	require.NoError(t, errE, "% -+#.1v", errE)
	second, errE := s.GetUserView(ctx, "u2", "D3")
	require.NoError(t, errE, "% -+#.1v", errE)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	// Equal amounts keep their submission order under the stable sort.
	assert.Equal(t, "2", first[0].Item["id"])
	assert.Equal(t, "3", first[1].Item["id"])
	assert.Equal(t, "1", first[2].Item["id"])
}
