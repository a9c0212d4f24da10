package core

/*------------------------------------------------------------------
 *
 * Purpose:	Passive UDP broadcast listener maintaining a live
 *		directory of Ether Dream DACs on the LAN, with expiry.
 *
 * Description:	Bind a UDP socket to the fixed broadcast port and loop:
 *		receive with a short timeout, parse 36-byte broadcast
 *		packets, evict anything not heard from in 3s, and notify
 *		subscribers whenever the map actually changed.
 *
 *		Grounded on the teacher's dns_sd.go for "announce a
 *		service, let subscribers react to what's on the LAN," and
 *		on gopushpixels' discovery/listener.go for the pattern of
 *		hiding the raw *net.UDPConn behind a small interface so the
 *		read loop can be driven by fakes in tests.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/hex"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DiscoveryPort is the fixed UDP port Ether Dream DACs broadcast on.
const DiscoveryPort = 7654

// broadcastPacketSize is the only packet length the listener accepts.
const broadcastPacketSize = 36

// discoveryReadTimeout bounds each blocking receive so the loop can
// periodically re-check the expiry deadline even when the LAN is
// quiet.
const discoveryReadTimeout = 1200 * time.Millisecond

// dacExpiry is how long a DAC is kept after its last broadcast.
const dacExpiry = 3 * time.Second

// DiscoveredDac is the immutable identity of a DAC observed on the
// LAN, as parsed from one broadcast packet.
type DiscoveredDac struct {
	ID             string // 6 hex characters, from bytes 3..5 of the packet
	IPAddr         net.IP
	HardwareRev    uint16
	SoftwareRev    uint16
	BufferCapacity uint16
}

// DacSnapshot is an immutable id -> DiscoveredDac view handed to
// subscribers. Callers must not mutate it.
type DacSnapshot map[string]DiscoveredDac

func (s DacSnapshot) clone() DacSnapshot {
	out := make(DacSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// parseBroadcastPacket decodes one 36-byte discovery broadcast. It
// returns false if the packet is not exactly 36 bytes.
func parseBroadcastPacket(buf []byte, from net.IP) (DiscoveredDac, bool) {
	if len(buf) != broadcastPacketSize {
		return DiscoveredDac{}, false
	}

	return DiscoveredDac{
		ID:             hex.EncodeToString(buf[3:6]),
		IPAddr:         from,
		HardwareRev:    getU16LE(buf, 6),
		SoftwareRev:    getU16LE(buf, 8),
		BufferCapacity: getU16LE(buf, 10),
	}, true
}

// udpConn is the subset of *net.UDPConn the listener needs; narrowing
// it to an interface lets tests drive the read loop with a fake.
type udpConn interface {
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	Close() error
}

type dacEntry struct {
	dac      DiscoveredDac
	lastSeen time.Time
}

// Listener maintains {dacId -> DiscoveredDac} reflecting DACs
// currently broadcasting, per spec §4.1.
type Listener struct {
	mu          sync.Mutex
	dacs        map[string]dacEntry
	subscribers []func(DacSnapshot)
	started     bool
	conn        udpConn
	now         func() time.Time

	// dialUDP creates the real socket; overridden by tests.
	dialUDP func() (udpConn, error)
}

// NewListener constructs a Listener bound to the standard Ether Dream
// discovery port. The listener does not start receiving until the
// first Subscribe call.
func NewListener() *Listener {
	l := &Listener{
		dacs: make(map[string]dacEntry),
		now:  time.Now,
	}
	l.dialUDP = l.openBroadcastSocket
	return l
}

// openBroadcastSocket binds to DiscoveryPort and then sets
// SO_REUSEADDR and SO_BROADCAST on the bound socket, mirroring the
// teacher's connect_listen_thread SO_REUSEADDR handling in kissnet.go.
// The options are applied after the bind, so the bind itself is made
// without address reuse.
func (l *Listener) openBroadcastSocket() (udpConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: DiscoveryPort})
	if err != nil {
		return nil, err
	}

	if sc, err := conn.SyscallConn(); err == nil {
		_ = sc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
	}

	return conn, nil
}

// Subscribe registers a callback invoked whenever the DAC map changes.
// The first subscription starts the background listener, which then
// runs for the process lifetime (spec §4.1).
func (l *Listener) Subscribe(callback func(DacSnapshot)) {
	l.mu.Lock()
	l.subscribers = append(l.subscribers, callback)
	needStart := !l.started
	if needStart {
		l.started = true
	}
	l.mu.Unlock()

	if needStart {
		go l.run()
	}
}

// Snapshot returns the current DAC map without subscribing.
func (l *Listener) Snapshot() DacSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Listener) snapshotLocked() DacSnapshot {
	out := make(DacSnapshot, len(l.dacs))
	for id, e := range l.dacs {
		out[id] = e.dac
	}
	return out
}

func (l *Listener) notifyLocked() {
	snap := l.snapshotLocked()
	for _, cb := range l.subscribers {
		cb(snap)
	}
}

// run is the background receive loop. Malformed packets are silently
// dropped; a socket error terminates the loop without self-restart --
// an acceptable choice because the socket is bound once to a fixed
// port (spec §4.1 Failure).
func (l *Listener) run() {
	conn, err := l.dialUDP()
	if err != nil {
		logError("discovery: failed to open UDP socket on port %d: %v", DiscoveryPort, err)
		return
	}
	defer conn.Close()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	buf := make([]byte, 256)

	for {
		if err := conn.SetReadDeadline(l.now().Add(discoveryReadTimeout)); err != nil {
			logError("discovery: SetReadDeadline failed: %v", err)
			return
		}

		n, addr, err := conn.ReadFromUDP(buf)

		changed := false

		l.mu.Lock()
		if err == nil {
			if dac, ok := parseBroadcastPacket(buf[:n], addr.IP); ok {
				_, existed := l.dacs[dac.ID]
				l.dacs[dac.ID] = dacEntry{dac: dac, lastSeen: l.now()}
				if !existed {
					changed = true
					logInfo("discovery: new DAC %s at %s", dac.ID, dac.IPAddr)
				}
			}
			// Packets of any other length are ignored (spec §6).
		} else if !isTimeout(err) {
			l.mu.Unlock()
			logError("discovery: socket error, listener terminating: %v", err)
			return
		}

		if l.evictExpiredLocked() {
			changed = true
		}

		if changed {
			l.notifyLocked()
		}
		l.mu.Unlock()
	}
}

func (l *Listener) evictExpiredLocked() bool {
	now := l.now()
	evicted := false
	for id, e := range l.dacs {
		if now.Sub(e.lastSeen) > dacExpiry {
			delete(l.dacs, id)
			evicted = true
			logInfo("discovery: DAC %s expired", id)
		}
	}
	return evicted
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
