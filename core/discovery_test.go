package core

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePacket struct {
	data []byte
	addr *net.UDPAddr
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

type fakeUDPConn struct {
	mu      sync.Mutex
	packets []fakePacket
}

func (f *fakeUDPConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeUDPConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.packets) == 0 {
		return 0, nil, fakeTimeoutErr{}
	}

	p := f.packets[0]
	f.packets = f.packets[1:]
	n := copy(b, p.data)
	return n, p.addr, nil
}

func (f *fakeUDPConn) Close() error { return nil }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func makeBroadcastPacket(id [3]byte, hwRev, swRev, bufCap uint16) []byte {
	buf := make([]byte, broadcastPacketSize)
	copy(buf[3:6], id[:])
	putU16LE(buf, 6, hwRev)
	putU16LE(buf, 8, swRev)
	putU16LE(buf, 10, bufCap)
	return buf
}

// TestDiscoveryAddAndExpire is spec §8 scenario 1.
func TestDiscoveryAddAndExpire(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := &testClock{t: base}

	packet := makeBroadcastPacket([3]byte{0xAB, 0xCD, 0xEF}, 1, 2, 1800)
	fake := &fakeUDPConn{packets: []fakePacket{
		{data: packet, addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.5")}},
	}}

	l := NewListener()
	l.now = clk.now
	l.dialUDP = func() (udpConn, error) { return fake, nil }

	results := make(chan DacSnapshot, 16)
	l.Subscribe(func(s DacSnapshot) { results <- s })

	var addSnap DacSnapshot
	select {
	case addSnap = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for add callback")
	}

	require.Len(t, addSnap, 1)
	dac, ok := addSnap["abcdef"]
	require.True(t, ok)
	assert.Equal(t, uint16(1), dac.HardwareRev)
	assert.Equal(t, uint16(2), dac.SoftwareRev)
	assert.Equal(t, uint16(1800), dac.BufferCapacity)
	assert.Equal(t, "10.0.0.5", dac.IPAddr.String())

	clk.set(base.Add(3100 * time.Millisecond))

	for {
		select {
		case snap := <-results:
			if len(snap) == 0 {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for expire callback")
		}
	}
}

func TestParseBroadcastPacketRejectsWrongSize(t *testing.T) {
	_, ok := parseBroadcastPacket(make([]byte, 10), net.ParseIP("10.0.0.1"))
	assert.False(t, ok)
}

func TestParseBroadcastPacketFields(t *testing.T) {
	packet := makeBroadcastPacket([3]byte{0x00, 0x11, 0x22}, 5, 9, 4000)
	dac, ok := parseBroadcastPacket(packet, net.ParseIP("192.168.1.50"))
	require.True(t, ok)
	assert.Equal(t, "001122", dac.ID)
	assert.Equal(t, uint16(5), dac.HardwareRev)
	assert.Equal(t, uint16(9), dac.SoftwareRev)
	assert.Equal(t, uint16(4000), dac.BufferCapacity)
}
