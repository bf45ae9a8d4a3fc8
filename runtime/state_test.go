package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateRegisterRoundTrip(t *testing.T) {
	s := NewState()
	s.SetRegister(3, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), s.GetRegister(3))
	require.Zero(t, s.GetRegister(4))
}

func TestExclusiveWriteMatchingGranule(t *testing.T) {
	s := NewState()
	s.ReserveExclusive(0x1004)

	require.True(t, s.ExclusiveWrite(0x1004))
	// A successful exclusive write clears the reservation.
	require.False(t, s.ExclusiveWrite(0x1004))
}

func TestExclusiveWriteDifferentGranuleFails(t *testing.T) {
	s := NewState()
	s.ReserveExclusive(0x1000)

	require.False(t, s.ExclusiveWrite(0x1008))
}

func TestExclusiveWriteWithoutReservationFails(t *testing.T) {
	s := NewState()
	require.False(t, s.ExclusiveWrite(0x2000))
}

func TestClearExclusiveDropsReservation(t *testing.T) {
	s := NewState()
	s.ReserveExclusive(0x3000)
	s.ClearExclusive()

	require.False(t, s.ExclusiveWrite(0x3000))
}

func TestReserveExclusiveMasksToGranule(t *testing.T) {
	s := NewState()
	// addr and addr+7 share an 8-byte-aligned granule.
	s.ReserveExclusive(0x4003)
	require.True(t, s.ExclusiveWrite(0x4007))
}
