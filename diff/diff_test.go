package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/continent/continent/diff"
	"gitlab.com/continent/continent/store"
)

func row(id string, fields map[string]any) store.Row {
	r := store.Row{"id": id}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func kindsByID(deltas []store.DeltaRecord) map[string]store.DeltaKind {
	out := make(map[string]store.DeltaKind, len(deltas))
	for _, d := range deltas {
		out[d.ItemID] = d.Kind
	}
	return out
}

func TestComputeAddOnly(t *testing.T) {
	old := []store.Row{row("1", nil)}
	newRows := []store.Row{row("1", nil), row("2", nil)}

	result := diff.Compute(old, newRows, 1000)

	assert.Len(t, result.Deltas, 1)
	assert.Equal(t, store.DeltaAdd, result.Deltas[0].Kind)
	assert.Equal(t, "2", result.Deltas[0].ItemID)
	assert.NotEmpty(t, result.DiffChecksum)
}

func TestComputeUpdateOnly(t *testing.T) {
	old := []store.Row{row("1", map[string]any{"name": "a"})}
	newRows := []store.Row{row("1", map[string]any{"name": "b"})}

	result := diff.Compute(old, newRows, 1000)

	assert.Len(t, result.Deltas, 1)
	assert.Equal(t, store.DeltaUpdate, result.Deltas[0].Kind)
}

func TestComputeDeleteOnly(t *testing.T) {
	old := []store.Row{row("1", nil), row("2", nil)}
	newRows := []store.Row{row("1", nil)}

	result := diff.Compute(old, newRows, 1000)

	assert.Len(t, result.Deltas, 1)
	assert.Equal(t, store.DeltaDelete, result.Deltas[0].Kind)
	assert.Equal(t, "2", result.Deltas[0].ItemID)
}

func TestComputeNoChangeProducesNoDeltas(t *testing.T) {
	old := []store.Row{row("1", map[string]any{"amount": float64(1)})}
	newRows := []store.Row{row("1", map[string]any{"amount": float64(1.0)})}

	result := diff.Compute(old, newRows, 1000)

	assert.Empty(t, result.Deltas)
}

func TestComputeMixedOrdering(t *testing.T) {
	old := []store.Row{
		row("a", map[string]any{"v": 1}),
		row("b", map[string]any{"v": 1}),
		row("c", map[string]any{"v": 1}),
	}
	newRows := []store.Row{
		row("b", map[string]any{"v": 2}), // update, appears first in new
		row("d", nil),                    // add
		row("a", map[string]any{"v": 1}), // unchanged
	}
	// c is missing from new -> delete

	result := diff.Compute(old, newRows, 1000)

	kinds := kindsByID(result.Deltas)
	assert.Equal(t, store.DeltaUpdate, kinds["b"])
	assert.Equal(t, store.DeltaAdd, kinds["d"])
	assert.Equal(t, store.DeltaDelete, kinds["c"])
	assert.NotContains(t, kinds, "a")

	// Order contract: add/update ordered by first appearance in new (b, d),
	// then delete ordered by first appearance in old (c).
	assert.Equal(t, []string{"b", "d", "c"}, []string{
		result.Deltas[0].ItemID, result.Deltas[1].ItemID, result.Deltas[2].ItemID,
	})
}

func TestComputeSkipsRowsMissingID(t *testing.T) {
	old := []store.Row{{"name": "no id here"}}
	newRows := []store.Row{{"name": "also no id"}, row("1", nil)}

	result := diff.Compute(old, newRows, 1000)

	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Deltas, 1)
	assert.Equal(t, store.DeltaAdd, result.Deltas[0].Kind)
}

func TestComputeChecksumDeterministic(t *testing.T) {
	old := []store.Row{row("1", map[string]any{"v": 1})}
	newRows := []store.Row{row("1", map[string]any{"v": 2}), row("2", nil)}

	first := diff.Compute(old, newRows, 1000)
	second := diff.Compute(old, newRows, 1000)

	assert.Equal(t, first.DiffChecksum, second.DiffChecksum)
}

// Applying a version's deltas to its parent's row set as a keyed merge
// must reproduce the new row set as a set (order is not preserved by
// replay).
func TestDeltaReplayReproducesNewRowSet(t *testing.T) {
	old := []store.Row{
		row("1", map[string]any{"s": "a"}),
		row("2", map[string]any{"s": "b"}),
		row("3", map[string]any{"s": "c"}),
	}
	newRows := []store.Row{
		row("2", map[string]any{"s": "changed"}),
		row("4", map[string]any{"s": "d"}),
		row("1", map[string]any{"s": "a"}),
	}

	result := diff.Compute(old, newRows, 1000)

	replayed := make(map[string]store.Row, len(old))
	for _, r := range old {
		id, ok := r.ID()
		if !ok {
			continue
		}
		replayed[id] = r
	}
	for _, d := range result.Deltas {
		switch d.Kind {
		case store.DeltaAdd, store.DeltaUpdate:
			replayed[d.ItemID] = d.NewItem
		case store.DeltaDelete:
			delete(replayed, d.ItemID)
		}
	}

	want := make(map[string]store.Row, len(newRows))
	for _, r := range newRows {
		id, ok := r.ID()
		if !ok {
			continue
		}
		want[id] = r
	}
	assert.Equal(t, want, replayed)
}
