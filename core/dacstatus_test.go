package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDacStatusRoundTrip(t *testing.T) {
	s := DacStatus{
		State:        DacStatePlaying,
		Fullness:     3600,
		Rate:         48000,
		PointsPlayed: 123456,
	}

	decoded, err := DecodeDacStatus(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
}

func TestDacStatusWrongSize(t *testing.T) {
	_, err := DecodeDacStatus(make([]byte, 10))
	assert.Error(t, err)
}

func TestDacResponseRoundTrip(t *testing.T) {
	r := DacResponse{
		Response: RespACK,
		Command:  'd',
		Status: DacStatus{
			State:        DacStateIdle,
			Fullness:     0,
			Rate:         30000,
			PointsPlayed: 0,
		},
	}

	decoded, err := DecodeDacResponse(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestDacResponseFatal(t *testing.T) {
	assert.False(t, DacResponse{Response: RespACK}.Fatal())
	assert.False(t, DacResponse{Response: RespNAKInvalid}.Fatal())
	assert.True(t, DacResponse{Response: 'X'}.Fatal())
}

func TestDacStateFromByte(t *testing.T) {
	assert.Equal(t, DacStateIdle, dacStateFromByte(0))
	assert.Equal(t, DacStatePrepared, dacStateFromByte(1))
	assert.Equal(t, DacStatePlaying, dacStateFromByte(2))
	assert.Equal(t, DacStateInvalid, dacStateFromByte(99))
}
