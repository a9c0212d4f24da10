package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestU16LERoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := uint16(rapid.Uint16().Draw(t, "v"))
		buf := make([]byte, 2)
		putU16LE(buf, 0, v)
		assert.Equal(t, v, getU16LE(buf, 0))
	})
}

func TestI16LERoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := int16(rapid.Int16().Draw(t, "v"))
		buf := make([]byte, 2)
		putI16LE(buf, 0, v)
		assert.Equal(t, v, getI16LE(buf, 0))
	})
}

func TestU32LERoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := uint32(rapid.Uint32().Draw(t, "v"))
		buf := make([]byte, 4)
		putU32LE(buf, 0, v)
		assert.Equal(t, v, getU32LE(buf, 0))
	})
}

func TestClampI16(t *testing.T) {
	assert.Equal(t, int16(32767), clampI16(100000))
	assert.Equal(t, int16(-32768), clampI16(-100000))
	assert.Equal(t, int16(42), clampI16(42))
}

func TestClampU16(t *testing.T) {
	assert.Equal(t, uint16(65535), clampU16(100000))
	assert.Equal(t, uint16(0), clampU16(-1))
	assert.Equal(t, uint16(42), clampU16(42))
}
