package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedChannel(s *Store) {
	for i, ts := range []uint64{100, 200, 300, 400, 500} {
		savePost(s, post(string(rune('a'+i)), "s1", "c1", "u1", ts, "hello"))
	}
}

func TestSaveMessageDirectConversationID(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	m := post("m1", "addr2", "addr2", "addr2", 100, "hi")
	require.Nil(s.SaveMessage(m, m.CreatedDate, "addr2", ConversationDirect, "", "", ""))

	c, err := s.GetConversation("addr2")
	require.Nil(err)
	require.Equal("addr2", c.ConversationID)

	messages, err := s.GetAllSpaceMessages(c.ConversationID)
	require.Nil(err)
	require.Len(messages, 1)
}

func TestGetMessagesNoCursor(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)
	seedChannel(s)

	page, err := s.GetMessages("s1", "c1", 0, Backward, 2)
	require.Nil(err)
	require.Len(page.Messages, 2)
	require.Equal(uint64(400), page.Messages[0].CreatedDate)
	require.Equal(uint64(500), page.Messages[1].CreatedDate)
	require.Equal(uint64(400), page.NextCursor)
	require.Equal(uint64(500), page.PrevCursor)
}

func TestGetMessagesBackwardFromCursor(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)
	seedChannel(s)

	page, err := s.GetMessages("s1", "c1", 400, Backward, 2)
	require.Nil(err)
	require.Len(page.Messages, 2)
	require.Equal(uint64(200), page.Messages[0].CreatedDate)
	require.Equal(uint64(300), page.Messages[1].CreatedDate)
}

func TestGetMessagesForwardReconstructsBoundary(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)
	seedChannel(s)

	first, err := s.GetMessages("s1", "c1", 0, Backward, 2)
	require.Nil(err)
	require.Equal(uint64(400), first.NextCursor)

	older, err := s.GetMessages("s1", "c1", first.NextCursor, Backward, 2)
	require.Nil(err)
	require.Len(older.Messages, 2)

	forward, err := s.GetMessages("s1", "c1", older.Messages[len(older.Messages)-1].CreatedDate, Forward, 2)
	require.Nil(err)
	require.Equal(uint64(400), forward.Messages[0].CreatedDate)
	require.Equal(uint64(500), forward.Messages[1].CreatedDate)
}

func TestGetMessagesPartialPageHasNoNextCursor(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)
	seedChannel(s)

	page, err := s.GetMessages("s1", "c1", 0, Backward, 10)
	require.Nil(err)
	require.Len(page.Messages, 5)
	require.Equal(uint64(0), page.NextCursor)
}

func TestDeleteMessageWritesTombstone(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	require.Nil(s.DeleteMessage("m1"))

	deleted, err := s.IsMessageDeleted("m1")
	require.Nil(err)
	require.True(deleted)

	_, err = s.GetMessageByID("m1")
	require.ErrorIs(err, ErrNotFound)
}

func TestDeleteDirectMessageLeavesNoTombstone(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	m := post("m1", "addr1", "addr1", "u1", 100, "hello")
	require.Nil(s.SaveMessage(m, 100, "addr1", ConversationDirect, "", "", ""))
	require.Nil(s.DeleteMessage("m1"))

	deleted, err := s.IsMessageDeleted("m1")
	require.Nil(err)
	require.False(deleted)
}

func TestDeleteMessageCascadesBookmarks(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	require.Nil(s.AddBookmark(&Bookmark{BookmarkID: "b1", MessageID: "m1", SourceType: "space", CreatedAt: 1}))
	require.Nil(s.DeleteMessage("m1"))

	_, err := s.GetBookmarkByMessage("m1")
	require.ErrorIs(err, ErrNotFound)
}

func TestPinUnpin(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	require.Nil(s.PinMessage("m1", "u2"))

	pinned, err := s.GetPinnedMessages("s1", "c1")
	require.Nil(err)
	require.Len(pinned, 1)
	require.True(pinned[0].IsPinned)
	require.Equal("u2", pinned[0].PinnedBy)

	require.Nil(s.UnpinMessage("m1"))
	pinned, err = s.GetPinnedMessages("s1", "c1")
	require.Nil(err)
	require.Len(pinned, 0)

	m, err := s.GetMessageByID("m1")
	require.Nil(err)
	require.False(m.IsPinned)
	require.Equal(uint64(0), m.PinnedAt)
	require.Equal("", m.PinnedBy)
}

func TestPinMissingMessage(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.ErrorIs(s.PinMessage("nope", "u1"), ErrNotFound)
}

func TestReactions(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	require.Nil(s.ApplyReaction("s1", "c1", "m1", "thumbsup", "u2"))
	require.Nil(s.ApplyReaction("s1", "c1", "m1", "thumbsup", "u3"))

	m, err := s.GetMessageByID("m1")
	require.Nil(err)
	require.Len(m.Reactions, 1)
	require.Equal(2, m.Reactions[0].Count)

	// reapplying from the same member changes nothing
	require.Nil(s.ApplyReaction("s1", "c1", "m1", "thumbsup", "u2"))
	m, err = s.GetMessageByID("m1")
	require.Nil(err)
	require.Equal(2, m.Reactions[0].Count)

	require.Nil(s.RemoveReaction("s1", "c1", "m1", "thumbsup", "u2"))
	require.Nil(s.RemoveReaction("s1", "c1", "m1", "thumbsup", "u3"))
	m, err = s.GetMessageByID("m1")
	require.Nil(err)
	require.Len(m.Reactions, 0)
}

func TestSaveMessageAdvancesConversation(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	savePost(s, post("m2", "s1", "c1", "u1", 200, "again"))

	c, err := s.GetConversation("s1/c1")
	require.Nil(err)
	require.Equal(uint64(200), c.Timestamp)
	require.Equal(uint64(0), c.LastReadTimestamp)
}

func TestOwnMessageAdvancesReadTime(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	m := post("m1", "s1", "c1", "me", 100, "hello")
	require.Nil(s.SaveMessage(m, 100, "addr1", ConversationGroup, "", "", "me"))

	c, err := s.GetConversation("s1/c1")
	require.Nil(err)
	require.Equal(uint64(100), c.LastReadTimestamp)
}

func TestCountMessages(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)
	seedChannel(s)

	count, err := s.CountMessages("s1")
	require.Nil(err)
	require.Equal(5, count)
}
