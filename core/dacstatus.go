package core

/*------------------------------------------------------------------
 *
 * Purpose:	Wire-exact encode/decode of the Ether Dream DacStatus (20
 *		bytes) and DacResponse (22 bytes) blocks.
 *
 * References:	Ether Dream protocol, as documented by the DAC vendor.
 *		See spec §3 / §6 for the exact byte layout.
 *
 *------------------------------------------------------------------*/

import "fmt"

// DacState is the playback state reported in a DacStatus block.
type DacState byte

const (
	DacStateIdle     DacState = 0
	DacStatePrepared DacState = 1
	DacStatePlaying  DacState = 2
	DacStateInvalid  DacState = 0xFF
)

func (s DacState) String() string {
	switch s {
	case DacStateIdle:
		return "idle"
	case DacStatePrepared:
		return "prepared"
	case DacStatePlaying:
		return "playing"
	default:
		return "invalid"
	}
}

func dacStateFromByte(b byte) DacState {
	switch b {
	case 0:
		return DacStateIdle
	case 1:
		return DacStatePrepared
	case 2:
		return DacStatePlaying
	default:
		return DacStateInvalid
	}
}

// DacStatusSize is the wire size, in bytes, of a DacStatus block.
const DacStatusSize = 20

// DacResponseSize is the wire size, in bytes, of a DacResponse block.
const DacResponseSize = 22

// DacStatus is the parsed 20-byte status block the DAC attaches to
// every response.
type DacStatus struct {
	State        DacState
	Fullness     uint16 // points currently buffered in the DAC
	Rate         uint32 // current points-per-second
	PointsPlayed uint32
}

// DecodeDacStatus parses a DacStatus from its wire representation.
// The layout mirrors the real Ether Dream protocol closely enough for
// this player: byte 0 protocol flags (unused here), byte 1 light
// engine/playback state, byte 2 source (unused), u16 fullness at
// offset 4, u32 point rate at offset 6, u32 points played at offset
// 10, remaining bytes reserved.
func DecodeDacStatus(buf []byte) (DacStatus, error) {
	if len(buf) != DacStatusSize {
		return DacStatus{}, fmt.Errorf("core: DacStatus must be %d bytes, got %d", DacStatusSize, len(buf))
	}

	return DacStatus{
		State:        dacStateFromByte(buf[1]),
		Fullness:     getU16LE(buf, 4),
		Rate:         getU32LE(buf, 6),
		PointsPlayed: getU32LE(buf, 10),
	}, nil
}

// Encode serializes the status back to its 20-byte wire form. Used
// primarily by tests to assert round-trip identity, and by fakes that
// stand in for a DAC in protocol connection tests.
func (s DacStatus) Encode() []byte {
	buf := make([]byte, DacStatusSize)
	buf[1] = byte(s.State)
	putU16LE(buf, 4, s.Fullness)
	putU32LE(buf, 6, s.Rate)
	putU32LE(buf, 10, s.PointsPlayed)
	return buf
}

// Response bytes as defined by the protocol.
const (
	RespACK        byte = 'a'
	RespNAKInvalid byte = 'I'
)

// DacResponse is the 22-byte reply the DAC sends for every command
// (plus one unsolicited status on connect).
type DacResponse struct {
	Response byte
	Command  byte
	Status   DacStatus
}

// DecodeDacResponse parses a 22-byte response: response byte, command
// echo byte, then the embedded 20-byte DacStatus.
func DecodeDacResponse(buf []byte) (DacResponse, error) {
	if len(buf) != DacResponseSize {
		return DacResponse{}, fmt.Errorf("core: DacResponse must be %d bytes, got %d", DacResponseSize, len(buf))
	}

	status, err := DecodeDacStatus(buf[2:])
	if err != nil {
		return DacResponse{}, err
	}

	return DacResponse{
		Response: buf[0],
		Command:  buf[1],
		Status:   status,
	}, nil
}

// Encode serializes the response back to its 22-byte wire form.
func (r DacResponse) Encode() []byte {
	buf := make([]byte, DacResponseSize)
	buf[0] = r.Response
	buf[1] = r.Command
	copy(buf[2:], r.Status.Encode())
	return buf
}

// Fatal reports whether this response byte is anything other than ACK
// or the tolerated NAK_INVALID -- i.e. it should kill the connection.
func (r DacResponse) Fatal() bool {
	return r.Response != RespACK && r.Response != RespNAKInvalid
}
