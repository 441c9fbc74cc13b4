package projection

import (
	"sort"

	"gitlab.com/continent/continent/canonical"
	"gitlab.com/continent/continent/store"
)

// filterRows returns the rows passing every (field, value) clause of
// filters: equality when value is scalar, membership when value is a
// slice. A field missing from the row never matches unless the filter's
// own value is nil.
func filterRows(rows []store.Row, filters map[string]any) []store.Row {
	if len(filters) == 0 {
		return rows
	}
	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		if matchesFilter(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

func matchesFilter(row store.Row, filters map[string]any) bool {
	for field, want := range filters {
		rowVal, present := row[field]
		if present && rowVal == nil {
			present = false
		}

		if want == nil {
			if present {
				return false
			}
			continue
		}
		if !present {
			return false
		}

		switch w := want.(type) {
		case []any:
			if !containsValue(w, rowVal) {
				return false
			}
		default:
			if !canonical.Equal(rowVal, want) {
				return false
			}
		}
	}
	return true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if canonical.Equal(item, v) {
			return true
		}
	}
	return false
}

// sortRows orders rows by desc.By, stably; missing or null sort keys are
// treated as the minimum for ascending order. desc flips the comparator
// only, never the underlying stability.
func sortRows(rows []store.Row, desc store.SortDescriptor) {
	less := func(i, j int) bool {
		ai, aOk := presentValue(rows[i], desc.By)
		bi, bOk := presentValue(rows[j], desc.By)
		return compareLess(ai, aOk, bi, bOk)
	}
	if desc.Desc {
		sort.SliceStable(rows, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(rows, less)
}

func presentValue(row store.Row, key string) (any, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func compareLess(a any, aPresent bool, b any, bPresent bool) bool {
	switch {
	case !aPresent && !bPresent:
		return false
	case !aPresent:
		return true
	case !bPresent:
		return false
	default:
		return compareScalar(a, b)
	}
}

func compareScalar(a, b any) bool {
	if af, aOk := toFloat(a); aOk {
		if bf, bOk := toFloat(b); bOk {
			return af < bf
		}
	}
	if as, aOk := a.(string); aOk {
		if bs, bOk := b.(string); bOk {
			return as < bs
		}
	}
	if ab, aOk := a.(bool); aOk {
		if bb, bOk := b.(bool); bOk {
			return !ab && bb
		}
	}
	// Values of incomparable types: fall back to a stable, deterministic
	// order over their canonical serialization.
	aBytes, _ := canonical.Marshal(a)
	bBytes, _ := canonical.Marshal(b)
	return string(aBytes) < string(bBytes)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
