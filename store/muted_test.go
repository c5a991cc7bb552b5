package store

import (
	"testing"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/stretchr/testify/require"
)

func TestMuteReplayDedup(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveMutedUser(&MutedUser{
		SpaceID:      "s1",
		TargetUserID: "u1",
		LastMuteID:   "mute-1",
		MutedAt:      100,
	}))
	// a replayed broadcast with the same mute id changes nothing
	require.Nil(s.SaveMutedUser(&MutedUser{
		SpaceID:      "s1",
		TargetUserID: "u1",
		LastMuteID:   "mute-1",
		MutedAt:      999,
	}))

	muted, err := s.GetMutedUsers("s1")
	require.Nil(err)
	require.Len(muted, 1)
	require.Equal(uint64(100), muted[0].MutedAt)

	// a fresh mute id is a new mute and overwrites
	require.Nil(s.SaveMutedUser(&MutedUser{
		SpaceID:      "s1",
		TargetUserID: "u1",
		LastMuteID:   "mute-2",
		MutedAt:      200,
	}))
	muted, err = s.GetMutedUsers("s1")
	require.Nil(err)
	require.Len(muted, 1)
	require.Equal(uint64(200), muted[0].MutedAt)
}

func TestMuteExpiry(t *testing.T) {
	require := require.New(t)
	cl := clock.NewTestClock(1000000 * 1000)
	s := newStoreWithClock(cl)
	defer shutdownStore(s)

	require.Nil(s.SaveMutedUser(&MutedUser{
		SpaceID:      "s1",
		TargetUserID: "temp",
		LastMuteID:   "m1",
		ExpiresAt:    cl.CurrentTimeMs() + 1000,
	}))
	require.Nil(s.SaveMutedUser(&MutedUser{
		SpaceID:      "s1",
		TargetUserID: "perm",
		LastMuteID:   "m2",
	}))

	muted, err := s.GetMutedUsers("s1")
	require.Nil(err)
	require.Len(muted, 2)

	cl.AdvanceMs(2000)
	muted, err = s.GetMutedUsers("s1")
	require.Nil(err)
	require.Len(muted, 1)
	require.Equal("perm", muted[0].TargetUserID)

	isMuted, err := s.IsUserMuted("s1", "temp")
	require.Nil(err)
	require.False(isMuted)
	isMuted, err = s.IsUserMuted("s1", "perm")
	require.Nil(err)
	require.True(isMuted)
}

func TestUnmute(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveMutedUser(&MutedUser{SpaceID: "s1", TargetUserID: "u1", LastMuteID: "m1"}))
	require.Nil(s.DeleteMutedUser("s1", "u1"))

	isMuted, err := s.IsUserMuted("s1", "u1")
	require.Nil(err)
	require.False(isMuted)
}
