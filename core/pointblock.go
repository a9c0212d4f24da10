package core

/*------------------------------------------------------------------
 *
 * Purpose:	Owned little-endian buffer of fixed-layout Ether Dream
 *		points plus the associated point rate.
 *
 * Description:	Each point is 18 bytes on the wire:
 *
 *			control:u16, x:i16, y:i16, r:u16, g:u16, b:u16,
 *			i:u16, u1:u16, u2:u16
 *
 *		x/y are clamped to the signed 16-bit range; r/g/b are
 *		clamped to [0, 65535].  The high bit of control (0x8000)
 *		requests a rate change when set on the first point of a
 *		DATA block immediately following a QUEUE command; because
 *		that bit lives in the high byte of a little-endian u16,
 *		setting it is a single OR on the byte at point offset 1.
 *
 *------------------------------------------------------------------*/

import "fmt"

// PointSize is the wire size, in bytes, of one point record.
const PointSize = 18

// rateChangeByte is the offset, within one point record, of the byte
// that carries the high bit of the little-endian control field.
const rateChangeByte = 1

// rateChangeBit is that high bit, already shifted into the high byte.
const rateChangeBit = 0x80

// PointBlock is an owned buffer of N points plus the rate (in points
// per second) they should be sent at.  It is produced once by the
// playback engine, handed to the protocol layer, and consumed exactly
// once: ownership transfers on enqueue (see spec §3 Lifecycle).
type PointBlock struct {
	buf  []byte
	n    int
	Rate uint32
}

// NewPointBlock allocates an empty point block for n points at the
// given point rate.
func NewPointBlock(n int, rate uint32) *PointBlock {
	return &PointBlock{
		buf:  make([]byte, n*PointSize),
		n:    n,
		Rate: rate,
	}
}

// Len returns the number of points in the block.
func (pb *PointBlock) Len() int { return pb.n }

// SetPoint writes point i with x/y clamped to the signed 16-bit range
// and r/g/b clamped to [0, 65535]. control, i-channel and the two
// reserved fields are always zero; use SetRateChange to flag the
// first point of a block following a QUEUE command.
func (pb *PointBlock) SetPoint(i int, x, y, r, g, b int32) {
	if i < 0 || i >= pb.n {
		panic(fmt.Sprintf("core: PointBlock.SetPoint index %d out of range [0,%d)", i, pb.n))
	}

	off := i * PointSize
	putU16LE(pb.buf, off+0, 0) // control
	putI16LE(pb.buf, off+2, clampI16(x))
	putI16LE(pb.buf, off+4, clampI16(y))
	putU16LE(pb.buf, off+6, clampU16(r))
	putU16LE(pb.buf, off+8, clampU16(g))
	putU16LE(pb.buf, off+10, clampU16(b))
	putU16LE(pb.buf, off+12, 0) // i
	putU16LE(pb.buf, off+14, 0) // u1
	putU16LE(pb.buf, off+16, 0) // u2
}

// Point reads back point i exactly as it is laid out on the wire.
func (pb *PointBlock) Point(i int) (control uint16, x, y int16, r, g, b uint16) {
	if i < 0 || i >= pb.n {
		panic(fmt.Sprintf("core: PointBlock.Point index %d out of range [0,%d)", i, pb.n))
	}

	off := i * PointSize
	control = getU16LE(pb.buf, off+0)
	x = getI16LE(pb.buf, off+2)
	y = getI16LE(pb.buf, off+4)
	r = getU16LE(pb.buf, off+6)
	g = getU16LE(pb.buf, off+8)
	b = getU16LE(pb.buf, off+10)
	return
}

// SetRateChange sets the RATE_CHANGE high bit on point 0's control
// field. Callers must only do this on the first point of a DATA block
// that immediately follows a QUEUE command (see spec §4.2.1).
func (pb *PointBlock) SetRateChange() {
	if pb.n == 0 {
		return
	}
	pb.buf[rateChangeByte] |= rateChangeBit
}

// Bytes returns the whole points[start:end] byte range for writing to
// the wire, without copying.
func (pb *PointBlock) Bytes(start, end int) []byte {
	return pb.buf[start*PointSize : end*PointSize]
}
