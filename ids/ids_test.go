package ids_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/continent/continent/ids"
	"gitlab.com/continent/continent/store"
)

func TestValidVersion(t *testing.T) {
	assert.True(t, ids.ValidVersion("v1700000000.deadbeef"))
	assert.False(t, ids.ValidVersion("v1700000000.deadbee"))  // too short
	assert.False(t, ids.ValidVersion("1700000000.deadbeef"))  // missing v
	assert.False(t, ids.ValidVersion("v1700000000.DEADBEEF")) // not lowercase hex
}

func TestChecksumDeterministicAndOrderSensitive(t *testing.T) {
	rows := []store.Row{{"id": "1", "s": "a"}, {"id": "2", "s": "b"}}
	reordered := []store.Row{{"id": "2", "s": "b"}, {"id": "1", "s": "a"}}

	first, errE := ids.Checksum(rows)
	require.NoError(t, errE)
	second, errE := ids.Checksum(rows)
	require.NoError(t, errE)
	assert.Equal(t, first, second)

	other, errE := ids.Checksum(reordered)
	require.NoError(t, errE)
	assert.NotEqual(t, first, other, "row order is part of the version's content")
}

func TestDeriveVersionMatchesGrammar(t *testing.T) {
	checksum, errE := ids.Checksum([]store.Row{{"id": "1"}})
	require.NoError(t, errE)

	version := ids.DeriveVersion(time.Unix(1700000000, 0), checksum)
	assert.True(t, ids.ValidVersion(version))
}

func TestWorkflowIDsAreStable(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	assert.Equal(t, "continent-d1-v1.deadbeef-1700000000", ids.IngestWorkflowID("d1", "v1.deadbeef", ts))
	assert.Equal(t, "uctx-u1-d1-1700000000", ids.ContextWorkflowID("u1", "d1", ts))
}
