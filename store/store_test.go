package store

import (
	"os"
	"testing"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/internal/test"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

func newStore() *Store {
	return newStoreWithClock(clock.NewSystemClock())
}

func newStoreWithClock(cl clock.Clock) *Store {
	c := config.NewConfig(config.WithMaxBookmarks(3))
	d := test.NewTestDatabaseWithClock(c, cl)
	s, err := New(c, d, cl)
	if err != nil {
		panic(err)
	}
	return s
}

func shutdownStore(s *Store) {
	if err := s.db.Shutdown(); err != nil {
		panic(err)
	}
}

func post(messageID, spaceID, channelID, senderID string, ts uint64, text string) *Message {
	return &Message{
		MessageID:   messageID,
		SpaceID:     spaceID,
		ChannelID:   channelID,
		CreatedDate: ts,
		Content: Content{
			Type:     ContentPost,
			SenderID: senderID,
			Text:     text,
		},
	}
}

func savePost(s *Store, m *Message) {
	if err := s.SaveMessage(m, m.CreatedDate, "addr1", ConversationGroup, "", "", ""); err != nil {
		panic(err)
	}
}
