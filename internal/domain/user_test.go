package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUserValidatesName(t *testing.T) {
	u, err := NewUser("doc-1", "Dr. Abel")
	require.NoError(t, err)
	require.Equal(t, UserID("doc-1"), u.ID)

	_, err = NewUser("doc-1", "")
	require.ErrorIs(t, err, ErrNameEmpty)

	_, err = NewUser("doc-1", strings.Repeat("x", MaxNameLen+1))
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestSetName(t *testing.T) {
	u, err := NewUser("doc-1", "Dr. Abel")
	require.NoError(t, err)

	require.NoError(t, u.SetName("Dr. Baker"))
	require.Equal(t, "Dr. Baker", u.Name)

	require.ErrorIs(t, u.SetName(""), ErrNameEmpty)
	require.Equal(t, "Dr. Baker", u.Name)
}

func TestCallConstructors(t *testing.T) {
	out := NewOutboundCall("pat-1", "Checkup", 3)
	require.True(t, out.Initiator)
	require.Equal(t, CallDialing, out.Status)
	require.Equal(t, uint64(3), out.Epoch)
	require.Empty(t, out.Room)

	in := NewInboundCall("pat-2", "Pat Doe", "sid-9", "room-3", 4)
	require.False(t, in.Initiator)
	require.Equal(t, CallIncoming, in.Status)
	require.Equal(t, RoomID("room-3"), in.Room)
	require.Equal(t, "sid-9", in.RemoteSID)
}
