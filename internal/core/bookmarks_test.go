package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookmarkSetBasics(t *testing.T) {
	b := NewBookmarkSet(steppingClock())

	assert.True(t, b.Add("1", abhiraj, 12))
	assert.False(t, b.Add("1", abhiraj, 12), "duplicates are ignored")
	assert.True(t, b.Add("1", abhiraj, 3))
	assert.Equal(t, []int{3, 12}, b.ListFor("1", abhiraj))
	assert.True(t, b.Contains("1", abhiraj, 3))

	assert.True(t, b.Remove("1", abhiraj, 3))
	assert.False(t, b.Remove("1", abhiraj, 3))

	assert.True(t, b.Toggle("1", abhiraj, 7))
	assert.False(t, b.Toggle("1", abhiraj, 7))
	assert.Equal(t, []int{12}, b.ListFor("1", abhiraj))
}

func TestBookmarkSetRejectsCombinedAndBadPages(t *testing.T) {
	b := NewBookmarkSet(steppingClock())
	assert.False(t, b.Add("1", Combined(), 5))
	assert.False(t, b.Add("1", abhiraj, 0))
	assert.False(t, b.Toggle("1", Combined(), 5))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []int{}, b.ListFor("1", abhiraj))
}

func TestBookmarkPartition(t *testing.T) {
	b := NewBookmarkSet(steppingClock())
	for _, pg := range []int{111, 5, 40} {
		b.Add("1", abhiraj, pg)
	}
	for _, pg := range []int{336, 40, 2} {
		b.Add("1", shraddha, pg)
	}
	b.Add("2", shraddha, 999)

	p1 := b.ListFor("1", abhiraj)
	p2 := b.ListFor("1", shraddha)
	assert.Equal(t, []int{5, 40, 111}, p1)
	assert.Equal(t, []int{2, 40, 336}, p2)
	assert.NotContains(t, p1, 336)
	assert.NotContains(t, p2, 111)
	assert.NotContains(t, p2, 999, "criteria are separate scopes")

	assert.Equal(t, []int{2, 5, 40, 111, 336}, b.ListCombined("1", []PartnerID{abhiraj, shraddha}))
	assert.Equal(t, []int{5, 40, 111}, b.ListCombined("1", []PartnerID{abhiraj, shankar}))
}

func TestBookmarkEntriesOrder(t *testing.T) {
	b := NewBookmarkSet(steppingClock())
	b.Add("1", shraddha, 4)
	b.Add("1", abhiraj, 9)
	b.Add("1", abhiraj, 2)

	entries := b.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "Abhiraj", entries[0].Partner.Name())
	assert.Equal(t, 2, entries[0].PageNumber)
	assert.Equal(t, 9, entries[1].PageNumber)
	assert.Equal(t, "Shraddha", entries[2].Partner.Name())
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestBookmarkSetRestoresCombinedEntriesReadOnly(t *testing.T) {
	b := NewBookmarkSet(steppingClock())
	b.Add("1", abhiraj, 5)
	b.restore(BookmarkEntry{CriterionID: "1", Partner: Combined(), PageNumber: 500})
	b.restore(BookmarkEntry{CriterionID: "1", PageNumber: 7})

	assert.Equal(t, []int{5, 500}, b.ListCombined("1", []PartnerID{abhiraj, shraddha}))
	assert.False(t, b.Remove("1", Combined(), 500))
	assert.Equal(t, 2, b.Len())

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Partner.IsCombined())
}
