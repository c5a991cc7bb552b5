package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveReadTime(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	savePost(s, post("m1", "s1", "c1", "u1", 100, "hello"))
	require.Nil(s.SaveReadTime("s1/c1", 100))

	c, err := s.GetConversation("s1/c1")
	require.Nil(err)
	require.Equal(uint64(100), c.LastReadTimestamp)
	// nothing else moved
	require.Equal(uint64(100), c.Timestamp)
}

func TestGetConversationsByType(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveConversation(&Conversation{ConversationID: "addr1", Address: "addr1", Type: ConversationDirect, Timestamp: 100}))
	require.Nil(s.SaveConversation(&Conversation{ConversationID: "s1/c1", Address: "addr2", Type: ConversationGroup, Timestamp: 200}))
	require.Nil(s.SaveConversation(&Conversation{ConversationID: "addr3", Address: "addr3", Type: ConversationDirect, Timestamp: 300}))

	page, err := s.GetConversations(ConversationDirect, 0, 10)
	require.Nil(err)
	require.Len(page.Conversations, 2)
	require.Equal("addr1", page.Conversations[0].ConversationID)
	require.Equal("addr3", page.Conversations[1].ConversationID)
	require.Equal(uint64(0), page.NextCursor)
}

func TestGetConversationsCursorResumes(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.Nil(s.SaveConversation(&Conversation{ConversationID: id, Address: id, Type: ConversationDirect, Timestamp: uint64(100 * (i + 1))}))
	}

	page, err := s.GetConversations(ConversationDirect, 0, 2)
	require.Nil(err)
	require.Len(page.Conversations, 2)
	require.Equal(uint64(200), page.NextCursor)

	page, err = s.GetConversations(ConversationDirect, page.NextCursor, 2)
	require.Nil(err)
	require.Len(page.Conversations, 2)
	require.Equal(uint64(300), page.Conversations[0].Timestamp)
	require.Equal(uint64(400), page.NextCursor)

	page, err = s.GetConversations(ConversationDirect, page.NextCursor, 2)
	require.Nil(err)
	require.Len(page.Conversations, 1)
	require.Equal(uint64(500), page.Conversations[0].Timestamp)
	require.Equal(uint64(0), page.NextCursor)
}

func TestDeleteConversation(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveConversation(&Conversation{ConversationID: "addr1", Address: "addr1", Type: ConversationDirect, Timestamp: 100}))
	require.Nil(s.DeleteConversation("addr1"))

	_, err := s.GetConversation("addr1")
	require.ErrorIs(err, ErrNotFound)
}

func TestConversationUsers(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveConversationUsers("addr1", []string{"u1", "u2"}))
	users, err := s.GetConversationUsers("addr1")
	require.Nil(err)
	require.Equal([]string{"u1", "u2"}, users)
}
