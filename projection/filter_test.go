package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/continent/continent/store"
)

func row(id string, fields map[string]any) store.Row {
	r := store.Row{"id": id}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func TestFilterAndSortScenario(t *testing.T) {
	rows := []store.Row{
		row("1", map[string]any{"status": "new", "country": "IN", "amount": float64(1200)}),
		row("2", map[string]any{"status": "shipped", "country": "US", "amount": float64(800)}),
		row("3", map[string]any{"status": "new", "country": "IN", "amount": float64(1500)}),
	}

	filters := map[string]any{
		"status":  []any{"new"},
		"country": "IN",
	}
	filtered := filterRows(rows, filters)
	assert.Len(t, filtered, 2)

	sortRows(filtered, store.SortDescriptor{By: "amount", Desc: true})

	assert.Equal(t, "3", filtered[0]["id"])
	assert.Equal(t, "1", filtered[1]["id"])
}

func TestFilterMissingFieldNeverMatchesUnlessFilterNil(t *testing.T) {
	rows := []store.Row{
		row("1", map[string]any{"status": "new"}),
		row("2", nil),
	}

	filtered := filterRows(rows, map[string]any{"status": "new"})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "1", filtered[0]["id"])

	filtered = filterRows(rows, map[string]any{"status": nil})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "2", filtered[0]["id"])
}

func TestFilterMembershipAndScalar(t *testing.T) {
	rows := []store.Row{
		row("1", map[string]any{"country": "IN"}),
		row("2", map[string]any{"country": "US"}),
		row("3", map[string]any{"country": "UK"}),
	}

	filtered := filterRows(rows, map[string]any{"country": []any{"IN", "UK"}})
	assert.Len(t, filtered, 2)
	assert.Equal(t, "1", filtered[0]["id"])
	assert.Equal(t, "3", filtered[1]["id"])
}

func TestSortStableWithMissingKeyAsMinimum(t *testing.T) {
	rows := []store.Row{
		row("a", map[string]any{"amount": float64(5)}),
		row("b", nil),
		row("c", map[string]any{"amount": float64(1)}),
		row("d", nil),
	}

	sortRows(rows, store.SortDescriptor{By: "amount", Desc: false})

	// b and d (missing amount) sort first, in their original relative
	// order; present values then ascend.
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(rows))
}

func ids(rows []store.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}
