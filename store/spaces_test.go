package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSpace() *Space {
	return &Space{
		SpaceID:          "s1",
		Name:             "general",
		DefaultChannelID: "c1",
		Groups: ChannelGroups{
			{Name: "main", Channels: []Channel{{ChannelID: "c1", Name: "general"}}},
		},
	}
}

func TestSpaceRoundtrip(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveSpace(testSpace()))
	sp, err := s.GetSpace("s1")
	require.Nil(err)
	require.Equal("general", sp.Name)
	require.True(sp.HasChannel("c1"))
	require.False(sp.HasChannel("c9"))
}

func TestSaveSpaceRejectsDanglingDefaultChannel(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	sp := testSpace()
	sp.DefaultChannelID = "missing"
	require.ErrorIs(s.SaveSpace(sp), ErrDanglingDefaultChannel)
}

func TestDeleteSpaceReturnsRemovedRow(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveSpace(testSpace()))
	removed, err := s.DeleteSpace("s1")
	require.Nil(err)
	require.Equal("general", removed.Name)

	_, err = s.GetSpace("s1")
	require.ErrorIs(err, ErrNotFound)
}

func TestSpaceMembers(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveSpace(testSpace()))
	require.Nil(s.SaveSpaceMember(&SpaceMember{SpaceID: "s1", UserAddress: "u1", DisplayName: "one"}))
	require.Nil(s.SaveSpaceMember(&SpaceMember{SpaceID: "s1", UserAddress: "u2", DisplayName: "two"}))

	count, err := s.CountMembers("s1")
	require.Nil(err)
	require.Equal(2, count)

	require.Nil(s.DeleteSpaceMember("s1", "u1"))
	members, err := s.GetSpaceMembers("s1")
	require.Nil(err)
	require.Len(members, 1)
	require.Equal("u2", members[0].UserAddress)
}

func TestSpaceKeys(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveSpaceKey(&SpaceKey{SpaceID: "s1", KeyID: "k1", PublicKey: "pub", PrivateKey: "priv"}))
	k, err := s.GetSpaceKey("s1", "k1")
	require.Nil(err)
	require.Equal("pub", k.PublicKey)

	keys, err := s.GetSpaceKeys("s1")
	require.Nil(err)
	require.Len(keys, 1)

	require.Nil(s.DeleteSpaceKey("s1", "k1"))
	_, err = s.GetSpaceKey("s1", "k1")
	require.ErrorIs(err, ErrNotFound)
}
