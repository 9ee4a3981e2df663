package working

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/memoryd/internal/model"
)

func TestAddAndGetRecent(t *testing.T) {
	s := NewStore(10)

	id, err := s.Add("u1", "a1", model.RoleUser, "hello", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recs, err := s.GetRecent("u1", "a1", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", recs[0].Content)
	assert.Equal(t, model.RoleUser, recs[0].Role)
	assert.Equal(t, "v", recs[0].Metadata["k"])
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 7; i++ {
		_, err := s.Add("u1", "a1", model.RoleUser, fmt.Sprintf("turn-%d", i), nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Len("u1", "a1"))

	recs, err := s.GetRecent("u1", "a1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Chronological order preserved, oldest evicted.
	assert.Equal(t, "turn-4", recs[0].Content)
	assert.Equal(t, "turn-6", recs[2].Content)
}

func TestGetRecentWindow(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		_, err := s.Add("u1", "a1", model.RoleAgent, fmt.Sprintf("turn-%d", i), nil)
		require.NoError(t, err)
	}

	recs, err := s.GetRecent("u1", "a1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "turn-3", recs[0].Content)
	assert.Equal(t, "turn-4", recs[1].Content)
}

func TestKeysAreIsolated(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("u1", "a1", model.RoleUser, "one", nil)
	require.NoError(t, err)
	_, err = s.Add("u1", "a2", model.RoleUser, "two", nil)
	require.NoError(t, err)

	recs, err := s.GetRecent("u1", "a1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "one", recs[0].Content)
}

func TestClear(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("u1", "a1", model.RoleUser, "x", nil)
	require.NoError(t, err)

	require.NoError(t, s.Clear("u1", "a1"))
	assert.Equal(t, 0, s.Len("u1", "a1"))
}

func TestClearThroughKeepsMidFlightRecords(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 3; i++ {
		_, err := s.Add("u1", "a1", model.RoleUser, fmt.Sprintf("old-%d", i), nil)
		require.NoError(t, err)
	}
	snap, err := s.Snapshot("u1", "a1")
	require.NoError(t, err)
	lastSeq := snap[len(snap)-1].Seq

	// A turn arrives while consolidation is in flight.
	_, err = s.Add("u1", "a1", model.RoleUser, "fresh", nil)
	require.NoError(t, err)

	require.NoError(t, s.ClearThrough("u1", "a1", lastSeq))

	recs, err := s.GetRecent("u1", "a1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].Content)
}

func TestValidation(t *testing.T) {
	s := NewStore(10)

	_, err := s.Add("", "a1", model.RoleUser, "x", nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = s.Add("u1", "", model.RoleUser, "x", nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = s.Add("u1", "a1", model.Role("overlord"), "x", nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = s.GetRecent("", "a1", 1)
	assert.True(t, errors.Is(err, model.ErrValidation))
}
