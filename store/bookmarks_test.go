package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBookmarkCeiling(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	// MaxBookmarks is 3 in the test config
	for i := 0; i < 3; i++ {
		require.Nil(s.AddBookmark(&Bookmark{
			BookmarkID: fmt.Sprintf("b%d", i),
			MessageID:  fmt.Sprintf("m%d", i),
			SourceType: "space",
			CreatedAt:  uint64(i),
		}))
	}
	err := s.AddBookmark(&Bookmark{BookmarkID: "b3", MessageID: "m3", SourceType: "space", CreatedAt: 3})
	require.ErrorIs(err, ErrBookmarkLimit)

	count, err := s.CountBookmarks()
	require.Nil(err)
	require.Equal(3, count)
}

func TestResaveBookmarkAtCeiling(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	for i := 0; i < 3; i++ {
		require.Nil(s.AddBookmark(&Bookmark{
			BookmarkID: fmt.Sprintf("b%d", i),
			MessageID:  fmt.Sprintf("m%d", i),
			SourceType: "space",
			CreatedAt:  uint64(i),
		}))
	}

	// updating an existing id adds no row, so the full table accepts it
	require.Nil(s.AddBookmark(&Bookmark{BookmarkID: "b1", MessageID: "m1", SourceType: "space", CreatedAt: 1, CachedPreview: BookmarkPreview{TextSnippet: "updated"}}))

	b, err := s.GetBookmarkByMessage("m1")
	require.Nil(err)
	require.Equal("updated", b.CachedPreview.TextSnippet)

	count, err := s.CountBookmarks()
	require.Nil(err)
	require.Equal(3, count)
}

func TestBookmarksNewestFirst(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.AddBookmark(&Bookmark{BookmarkID: "b1", MessageID: "m1", SourceType: "space", CreatedAt: 100}))
	require.Nil(s.AddBookmark(&Bookmark{BookmarkID: "b2", MessageID: "m2", SourceType: "dm", CreatedAt: 200}))

	bookmarks, err := s.GetBookmarks()
	require.Nil(err)
	require.Len(bookmarks, 2)
	require.Equal("b2", bookmarks[0].BookmarkID)
	require.Equal("b1", bookmarks[1].BookmarkID)
}

func TestDeleteBookmarkFreesSlot(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	for i := 0; i < 3; i++ {
		require.Nil(s.AddBookmark(&Bookmark{
			BookmarkID: fmt.Sprintf("b%d", i),
			MessageID:  fmt.Sprintf("m%d", i),
			SourceType: "space",
			CreatedAt:  uint64(i),
		}))
	}
	require.Nil(s.DeleteBookmark("b0"))
	require.Nil(s.AddBookmark(&Bookmark{BookmarkID: "b3", MessageID: "m3", SourceType: "space", CreatedAt: 3}))
}
