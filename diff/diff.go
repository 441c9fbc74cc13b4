// Package diff implements the pure add/update/delete computation between
// two row sets of a dataset, keyed by item identity.
package diff

import (
	"gitlab.com/continent/continent/canonical"
	"gitlab.com/continent/continent/store"
)

// Result is the outcome of Compute.
type Result struct {
	Deltas       []store.DeltaRecord
	DiffChecksum string
	// Skipped counts rows in either side missing a usable "id" field.
	// Such rows are skipped during diffing, not treated as fatal; the
	// caller decides whether to warn.
	Skipped int
}

// Compute builds deltas between old (the parent version's rows) and new
// (the version being ingested), bounding memory to roughly |old| + |new|
// map entries. Each side is indexed in one pass; rows missing an id are
// counted in a second pass over each side.
//
// Ordering is part of the diff_checksum contract: add/update records are
// ordered by first appearance in new, then delete records are ordered by
// first appearance in old.
func Compute(old, new []store.Row, ts int64) Result {
	oldByID := make(map[string]store.Row, len(old))
	oldOrder := make([]string, 0, len(old))
	for _, row := range old {
		id, ok := row.ID()
		if !ok {
			continue
		}
		if _, exists := oldByID[id]; !exists {
			oldOrder = append(oldOrder, id)
		}
		oldByID[id] = row
	}

	newByID := make(map[string]store.Row, len(new))
	newOrder := make([]string, 0, len(new))
	for _, row := range new {
		id, ok := row.ID()
		if !ok {
			continue
		}
		if _, exists := newByID[id]; !exists {
			newOrder = append(newOrder, id)
		}
		newByID[id] = row
	}

	skipped := countMissingIDs(old) + countMissingIDs(new)

	deltas := make([]store.DeltaRecord, 0, len(newOrder)+len(oldOrder))

	for _, id := range newOrder {
		newItem := newByID[id]
		oldItem, existed := oldByID[id]
		switch {
		case !existed:
			deltas = append(deltas, store.DeltaRecord{
				Kind:    store.DeltaAdd,
				ItemID:  id,
				OldItem: nil,
				NewItem: newItem,
				TS:      ts,
			})
		case !canonical.Equal(map[string]any(oldItem), map[string]any(newItem)):
			deltas = append(deltas, store.DeltaRecord{
				Kind:    store.DeltaUpdate,
				ItemID:  id,
				OldItem: oldItem,
				NewItem: newItem,
				TS:      ts,
			})
		}
	}

	for _, id := range oldOrder {
		if _, stillPresent := newByID[id]; stillPresent {
			continue
		}
		deltas = append(deltas, store.DeltaRecord{
			Kind:    store.DeltaDelete,
			ItemID:  id,
			OldItem: oldByID[id],
			NewItem: nil,
			TS:      ts,
		})
	}

	checksum, errE := canonical.Checksum(deltaRecordsForChecksum(deltas))
	if errE != nil {
		// Marshaling a slice of plain structs built entirely from already
		// JSON-decoded values cannot fail; this only guards a future
		// change introducing an unmarshalable field.
		checksum = ""
	}

	return Result{
		Deltas:       deltas,
		DiffChecksum: checksum,
		Skipped:      skipped,
	}
}

func countMissingIDs(rows []store.Row) int {
	n := 0
	for _, row := range rows {
		if _, ok := row.ID(); !ok {
			n++
		}
	}
	return n
}

// deltaRecordsForChecksum projects delta records into the field-sorted map
// encoding the diff_checksum contract requires.
func deltaRecordsForChecksum(deltas []store.DeltaRecord) []map[string]any {
	out := make([]map[string]any, len(deltas))
	for i, d := range deltas {
		out[i] = map[string]any{
			"kind":    string(d.Kind),
			"item_id": d.ItemID,
			"old":     map[string]any(d.OldItem),
			"new":     map[string]any(d.NewItem),
			"ts":      d.TS,
		}
	}
	return out
}
