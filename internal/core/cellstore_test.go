package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellStoreGetAbsent(t *testing.T) {
	s := NewCellStore(steppingClock())
	_, ok := s.Get("turnover-2022-23")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestCellStoreSetFlipsProvenance(t *testing.T) {
	s := NewCellStore(steppingClock())

	s.Set("turnover-2022-23", "100", 5, ModifiedByAI)
	c, ok := s.Get("turnover-2022-23")
	require.True(t, ok)
	assert.Equal(t, ModifiedByAI, c.Provenance.ModifiedBy)
	first := c.Provenance.ModifiedAt

	s.Set("turnover-2022-23", "120", 6, ModifiedByUser)
	c, _ = s.Get("turnover-2022-23")
	assert.Equal(t, "120", c.Value)
	assert.Equal(t, 6, c.PageNumber)
	assert.Equal(t, ModifiedByUser, c.Provenance.ModifiedBy)
	assert.True(t, c.Provenance.ModifiedAt.After(first))
}

func TestCellStoreSetNormalizesPage(t *testing.T) {
	s := NewCellStore(steppingClock())
	s.Set("k", "1", 0, ModifiedByUser)
	c, _ := s.Get("k")
	assert.Equal(t, 1, c.PageNumber)
}

func TestSetFromGenerationGuard(t *testing.T) {
	s := NewCellStore(steppingClock())

	assert.True(t, s.SetFromGeneration("a", "10", 3, false))
	c, _ := s.Get("a")
	assert.Equal(t, ModifiedByAI, c.Provenance.ModifiedBy)

	assert.True(t, s.SetFromGeneration("a", "11", 3, false), "AI cells may be refreshed")

	s.Set("a", "99", 4, ModifiedByUser)
	assert.False(t, s.SetFromGeneration("a", "12", 3, false))
	c, _ = s.Get("a")
	assert.Equal(t, "99", c.Value)
	assert.Equal(t, ModifiedByUser, c.Provenance.ModifiedBy)

	assert.True(t, s.SetFromGeneration("a", "12", 3, true))
	c, _ = s.Get("a")
	assert.Equal(t, "12", c.Value)
	assert.Equal(t, ModifiedByAI, c.Provenance.ModifiedBy)
}

func TestCellStoreApprovals(t *testing.T) {
	s := NewCellStore(steppingClock())
	assert.False(t, s.SetApproved("missing", true))

	s.Set("turnover-2022-23", "100", 5, ModifiedByAI)
	require.True(t, s.SetApproved("turnover-2022-23", true))
	assert.True(t, s.IsApproved("turnover-2022-23", "turnover-row"))

	s.Set("turnover-2022-23", "110", 5, ModifiedByUser)
	c, _ := s.Get("turnover-2022-23")
	assert.True(t, c.Approved, "edits keep the approval flag")

	assert.False(t, s.IsApproved("turnover-2023-24", "turnover-row"))
	s.SetRowApproved("turnover-row", true)
	assert.True(t, s.IsApproved("turnover-2023-24", "turnover-row"))
	assert.Equal(t, []string{"turnover-row"}, s.ApprovedRows())

	s.SetRowApproved("turnover-row", false)
	assert.Empty(t, s.ApprovedRows())
}

func TestParseModifiedBy(t *testing.T) {
	assert.Equal(t, ModifiedByAI, ParseModifiedBy("AI"))
	assert.Equal(t, ModifiedByAI, ParseModifiedBy(" ai "))
	assert.Equal(t, ModifiedByUser, ParseModifiedBy("user"))
	assert.Equal(t, ModifiedByUser, ParseModifiedBy(""))
}
