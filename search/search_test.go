package search

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	db "github.com/quorum-im/go-quorum/internal/db"
	"github.com/quorum-im/go-quorum/internal/test"
	"github.com/quorum-im/go-quorum/store"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

func newManager() (*Manager, *store.Store, *db.Database) {
	c := config.NewConfig()
	cl := clock.NewSystemClock()
	d := test.NewTestDatabaseWithClock(c, cl)
	s, err := store.New(c, d, cl)
	if err != nil {
		panic(err)
	}
	return NewManager(c, s), s, d
}

func saveSpace(s *store.Store, spaceID, channelID string) {
	if err := s.SaveSpace(&store.Space{
		SpaceID:          spaceID,
		Name:             spaceID,
		DefaultChannelID: channelID,
		Groups: store.ChannelGroups{
			{Name: "main", Channels: []store.Channel{{ChannelID: channelID, Name: channelID}}},
		},
	}); err != nil {
		panic(err)
	}
}

func savePost(s *store.Store, messageID, spaceID, channelID, text string, ts uint64) {
	m := &store.Message{
		MessageID:   messageID,
		SpaceID:     spaceID,
		ChannelID:   channelID,
		CreatedDate: ts,
		Content: store.Content{
			Type:     store.ContentPost,
			SenderID: "u1",
			Text:     text,
		},
	}
	conversationType := store.ConversationGroup
	if spaceID == channelID {
		conversationType = store.ConversationDirect
	}
	if err := s.SaveMessage(m, ts, "addr1", conversationType, "", "", ""); err != nil {
		panic(err)
	}
}

func TestInitializeAndSearch(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	savePost(s, "m1", "s1", "c1", "the quick brown fox", 100)
	savePost(s, "m2", "s1", "c1", "an unrelated note", 200)

	require.Nil(m.Initialize())

	results, err := m.Search("fox", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 1)
	require.Equal("m1", results[0].Message.MessageID)
	require.Greater(results[0].Score, 0.0)
}

func TestInitializeIsIdempotent(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	savePost(s, "m1", "s1", "c1", "hello world", 100)

	require.Nil(m.Initialize())
	require.Nil(m.Initialize())

	results, err := m.Search("hello", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 1)
}

func TestScopeIsolation(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	saveSpace(s, "s2", "c2")
	savePost(s, "m1", "s1", "c1", "meeting tomorrow", 100)
	savePost(s, "m2", "s2", "c2", "meeting cancelled", 200)

	require.Nil(m.Initialize())

	results, err := m.Search("meeting", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 1)
	require.Equal("m1", results[0].Message.MessageID)
}

func TestDMScope(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	savePost(s, "m1", "addr2", "addr2", "direct hello", 100)
	require.Nil(m.Initialize())

	results, err := m.Search("direct", DMScope("addr2"), 10)
	require.Nil(err)
	require.Len(results, 1)
}

func TestInitializeIndexesBeyondOneConversationPage(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	total := conversationBatch + 5
	for i := 0; i < total; i++ {
		addr := fmt.Sprintf("addr%d", i)
		savePost(s, fmt.Sprintf("m%d", i), addr, addr, "paged hello", uint64(100+i))
	}
	require.Nil(m.Initialize())

	// the newest conversation sits past the first page
	last := fmt.Sprintf("addr%d", total-1)
	results, err := m.Search("paged", DMScope(last), 10)
	require.Nil(err)
	require.Len(results, 1)
	require.Len(m.Scopes(), total)
}

func TestIncrementalAddAndRemove(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	require.Nil(m.Initialize())

	// writes after initialization flow through the observer, which
	// dispatches after commit on its own goroutine
	savePost(s, "m1", "s1", "c1", "incremental entry", 100)
	require.Eventually(func() bool {
		results, err := m.Search("incremental", SpaceScope("s1"), 10)
		return err == nil && len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Nil(s.DeleteMessage("m1"))
	require.Eventually(func() bool {
		results, err := m.Search("incremental", SpaceScope("s1"), 10)
		return err == nil && len(results) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddBeforeInitializeIsNoop(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	// observer fires before Initialize and must not panic or index
	savePost(s, "m1", "s1", "c1", "early bird", 100)

	results, err := m.Search("early", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 0)

	// the full build picks it up
	require.Nil(m.Initialize())
	results, err = m.Search("early", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 1)
}

func TestUnknownScopeReturnsNothing(t *testing.T) {
	require := require.New(t)
	m, _, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	require.Nil(m.Initialize())
	results, err := m.Search("anything", SpaceScope("nope"), 10)
	require.Nil(err)
	require.Len(results, 0)
}

func TestNonTextContentNotIndexed(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	sticker := &store.Message{
		MessageID:   "m1",
		SpaceID:     "s1",
		ChannelID:   "c1",
		CreatedDate: 100,
		Content: store.Content{
			Type:      store.ContentSticker,
			SenderID:  "u1",
			StickerID: "waving",
		},
	}
	require.Nil(s.SaveMessage(sticker, 100, "addr1", store.ConversationGroup, "", "", ""))
	require.Nil(m.Initialize())

	results, err := m.Search("waving", SpaceScope("s1"), 10)
	require.Nil(err)
	require.Len(results, 0)
}

func TestSearchManyMessages(t *testing.T) {
	require := require.New(t)
	m, s, d := newManager()
	defer func() { require.Nil(d.Shutdown()) }()

	saveSpace(s, "s1", "c1")
	for i := 0; i < 20; i++ {
		savePost(s, fmt.Sprintf("m%d", i), "s1", "c1", fmt.Sprintf("bulk message %d", i), uint64(100+i))
	}
	require.Nil(m.Initialize())

	results, err := m.Search("bulk", SpaceScope("s1"), 5)
	require.Nil(err)
	require.Len(results, 5)
}
