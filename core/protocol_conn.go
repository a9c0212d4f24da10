package core

/*------------------------------------------------------------------
 *
 * Purpose:	A single TCP session speaking the Ether Dream
 *		point-streaming protocol: handshake, framing, status
 *		tracking, rate-matched pacing, and the prepare/begin/
 *		data/queue state machine.
 *
 * Description:	Reader and sender run on separate goroutines sharing
 *		one mutex + condition variable, in the idiom of the
 *		teacher's tq.go/kissnet.go (one lock guarding a handful of
 *		plain fields, a Cond to wake a waiting goroutine instead of
 *		polling). Network writes happen with the lock released --
 *		the sender is the only writer, so that is safe.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ControlPort is the fixed Ether Dream TCP control port.
const ControlPort = 7765

// ConnectTimeout bounds the initial TCP handshake.
const ConnectTimeout = 1 * time.Second

// CommTimeout is the per-call read/write timeout used for the whole
// lifetime of the connection (spec §4.2).
const CommTimeout = 500 * time.Millisecond

// Sender pacing tunables (spec §4.2.3).
const (
	MinPointsPerSend = 40
	MaxPointsPerSend = 80
	TargetFullness   = 3600
	StartThreshold   = 3000
)

// maxQueuedFrames is the point at which addFrame starts dropping new
// frames: more than 2 already queued (spec §4.2, back-pressure).
const maxQueuedFrames = 2

// wireConn is the subset of net.Conn the connection needs; narrowing
// it to an interface lets tests drive the handshake and the
// sender/reader loops over a net.Pipe() instead of a real socket.
type wireConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is a single TCP session to one DiscoveredDac.
type Connection struct {
	netConn wireConn
	dac     DiscoveredDac

	firmwareVersion string

	mu   sync.Mutex
	cond *sync.Cond

	status             DacStatus
	statusReceivedTime time.Time
	unackedBlocks      []int
	frames             []*PointBlock
	frameCursor        int
	pendingMetaAcks    int
	beginSent          bool
	lastRate           uint32
	haveLastRate       bool
	shuttingDown       bool
}

// Dial establishes one TCP session to dac and performs the Ether
// Dream handshake (spec §4.2 Handshake).
func Dial(dac DiscoveredDac) (*Connection, error) {
	addr := net.JoinHostPort(dac.IPAddr.String(), strconv.Itoa(ControlPort))

	raw, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("core: dial %s: %w", addr, err)
	}

	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("core: dial %s: not a TCP connection", addr)
	}

	c, err := newConnection(tcpConn, dac, func() { _ = tcpConn.SetNoDelay(true) })
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("core: handshake with %s: %w", addr, err)
	}

	logInfo("protocol: connected to DAC %s (%s), firmware %q", dac.ID, addr, c.firmwareVersion)

	return c, nil
}

// newConnection performs the handshake over an already-open wireConn
// and builds a ready-to-run Connection. afterFirstRead, if non-nil, is
// invoked once the unsolicited initial status has been read (the hook
// Dial uses to flip on TCP_NODELAY per spec §9); tests exercising
// newConnection directly over a net.Pipe() can pass nil.
func newConnection(conn wireConn, dac DiscoveredDac, afterFirstRead func()) (*Connection, error) {
	c := &Connection{netConn: conn, dac: dac}
	c.cond = sync.NewCond(&c.mu)

	buf := make([]byte, DacResponseSize)
	if err := conn.SetReadDeadline(time.Now().Add(CommTimeout)); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("initial status read: %w", err)
	}

	resp, err := DecodeDacResponse(buf)
	if err != nil {
		return nil, err
	}

	if afterFirstRead != nil {
		afterFirstRead()
	}

	c.status = resp.Status
	c.statusReceivedTime = time.Now()

	if dac.SoftwareRev >= 2 {
		if err := conn.SetWriteDeadline(time.Now().Add(CommTimeout)); err != nil {
			return nil, err
		}
		if _, err := conn.Write([]byte{'v'}); err != nil {
			return nil, fmt.Errorf("write VERSION: %w", err)
		}

		verBuf := make([]byte, 32)
		if err := conn.SetReadDeadline(time.Now().Add(CommTimeout)); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(conn, verBuf); err != nil {
			return nil, fmt.Errorf("read VERSION response: %w", err)
		}
		c.firmwareVersion = strings.TrimRight(string(verBuf), " \x00")
	} else {
		c.firmwareVersion = "[old]"
	}

	return c, nil
}

// FirmwareVersion returns the version string negotiated during the
// handshake, or "[old]" for DACs reporting softwareRev < 2.
func (c *Connection) FirmwareVersion() string { return c.firmwareVersion }

// Status returns the most recently observed DacStatus.
func (c *Connection) Status() DacStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AddFrame enqueues a point block. If more than two frames are
// already queued, the new one is dropped instead (spec §4.2
// back-pressure); it reports whether the frame was kept.
func (c *Connection) AddFrame(block *PointBlock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) > maxQueuedFrames {
		logWarn("protocol: %s sender backlogged, dropping frame", c.dac.ID)
		return false
	}

	c.frames = append(c.frames, block)
	c.cond.Broadcast()
	return true
}

// IsReadyUnlocked reports whether at most one frame is queued --
// producers use this to throttle (spec §4.2).
func (c *Connection) IsReadyUnlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames) <= 1
}

// RequestShutdown asks the sender/reader loops to exit at their next
// wait boundary.
func (c *Connection) RequestShutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// fail marks the connection dead due to a protocol desynchronization
// or I/O error. Idempotent.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if !c.shuttingDown {
		c.shuttingDown = true
		logError("protocol: connection to %s failed: %v", c.dac.ID, err)
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// condWaitUntilLocked waits on c.cond until either signaled or
// deadline passes, reporting whether the deadline was reached. Must
// be called with c.mu held; it is the condition-variable analogue of
// the teacher's pthread_cond_timedwait, implemented with a one-shot
// timer because sync.Cond has no built-in timeout.
func (c *Connection) condWaitUntilLocked(deadline time.Time) (timedOut bool) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.cond.Wait()
	return !time.Now().Before(deadline)
}

// RunSender runs the sender loop until the connection becomes
// unusable, then tears down the reader goroutine and closes the
// socket. The caller must discard this Connection on return (spec
// §4.2).
func (c *Connection) RunSender() error {
	readerDone := make(chan struct{})
	go func() {
		c.readerLoop()
		close(readerDone)
	}()

	err := c.senderLoop()

	c.mu.Lock()
	c.shuttingDown = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-readerDone
	c.netConn.Close()

	return err
}

// senderLoop implements the sender algorithm of spec §4.2.3; a BEGIN
// write ends its pass (see DESIGN.md).
func (c *Connection) senderLoop() error {
	for {
		c.mu.Lock()

		for len(c.frames) == 0 && !c.shuttingDown {
			c.cond.Wait()
		}
		if c.shuttingDown {
			c.mu.Unlock()
			return nil
		}

		frame := c.frames[0]

		// Step 3: BEGIN trigger.
		if c.status.Fullness >= StartThreshold && !c.beginSent {
			c.pendingMetaAcks++
			c.beginSent = true
			rate := frame.Rate
			c.mu.Unlock()

			if err := c.writeBegin(rate); err != nil {
				return fmt.Errorf("core: write BEGIN: %w", err)
			}
			continue
		}

		// Steps 4-6: model expected remote fullness.
		var expectedUsed float64
		if c.status.State == DacStatePlaying {
			elapsed := time.Since(c.statusReceivedTime)
			expectedUsed = elapsed.Seconds() * float64(frame.Rate)
		}

		unackedSum := 0
		for _, n := range c.unackedBlocks {
			unackedSum += n
		}

		expectedFullness := float64(c.status.Fullness) + float64(unackedSum) - expectedUsed
		capacity := float64(TargetFullness) - expectedFullness

		// Step 7: not enough room yet, pace ourselves.
		if capacity < MinPointsPerSend {
			rate := frame.Rate
			if rate == 0 {
				rate = 1 // guard against a div-by-zero on a malformed frame
			}
			sleepNanos := (float64(MaxPointsPerSend) - capacity) * 1e9 / float64(rate)
			if sleepNanos < 0 {
				sleepNanos = 0
			}
			deadline := time.Now().Add(time.Duration(sleepNanos) * time.Nanosecond)
			c.condWaitUntilLocked(deadline)
			c.mu.Unlock()
			continue
		}

		// Step 8: PREPARE if the DAC is idle, and wait for its ack.
		if c.status.State == DacStateIdle {
			c.pendingMetaAcks++
			c.mu.Unlock()

			if err := c.writeWithDeadline([]byte{'p'}); err != nil {
				return fmt.Errorf("core: write PREPARE: %w", err)
			}

			c.mu.Lock()
			deadline := time.Now().Add(CommTimeout)
			for c.pendingMetaAcks != 0 && !c.shuttingDown {
				if c.condWaitUntilLocked(deadline) {
					break
				}
			}
			if c.shuttingDown {
				c.mu.Unlock()
				return nil
			}
			if c.pendingMetaAcks != 0 {
				c.mu.Unlock()
				return fmt.Errorf("core: PREPARE ack timed out")
			}
			c.mu.Unlock()
			continue
		}

		// Step 9: how many points to send this round.
		remaining := frame.Len() - c.frameCursor
		sendPoints := int(capacity)
		if remaining < sendPoints {
			sendPoints = remaining
		}
		if MaxPointsPerSend < sendPoints {
			sendPoints = MaxPointsPerSend
		}
		if sendPoints <= 0 {
			c.mu.Unlock()
			continue
		}

		startIdx := c.frameCursor
		endIdx := c.frameCursor + sendPoints
		payload := append([]byte(nil), frame.Bytes(startIdx, endIdx)...)
		c.frameCursor = endIdx

		// Step 10: rate change detection.
		sendQueue := !c.haveLastRate || frame.Rate != c.lastRate
		queueRate := frame.Rate
		if sendQueue {
			c.pendingMetaAcks++
			c.lastRate = frame.Rate
			c.haveLastRate = true
		}

		// Step 11: book-keeping for the reader to reconcile later.
		c.unackedBlocks = append(c.unackedBlocks, sendPoints)

		if c.frameCursor >= frame.Len() {
			c.frames = c.frames[1:]
			c.frameCursor = 0
		}

		c.mu.Unlock()

		// Step 12: release the lock, then write.
		if sendQueue {
			if err := c.writeQueue(queueRate); err != nil {
				return fmt.Errorf("core: write QUEUE: %w", err)
			}
			payload[rateChangeByte] |= rateChangeBit
		}

		if err := c.writeData(payload); err != nil {
			return fmt.Errorf("core: write DATA: %w", err)
		}
	}
}

// readerLoop implements spec §4.2.2. It wakes at least once per
// CommTimeout so it can notice RequestShutdown/fail without needing
// the socket closed out from under it.
func (c *Connection) readerLoop() {
	buf := make([]byte, DacResponseSize)

	for {
		if err := c.netConn.SetReadDeadline(time.Now().Add(CommTimeout)); err != nil {
			c.fail(err)
			return
		}

		_, err := io.ReadFull(c.netConn, buf)
		if err != nil {
			if isTimeout(err) {
				c.mu.Lock()
				shuttingDown := c.shuttingDown
				outstanding := len(c.unackedBlocks) + c.pendingMetaAcks
				c.mu.Unlock()

				if shuttingDown {
					return
				}
				if outstanding == 0 {
					continue // idle wait is expected
				}

				c.fail(fmt.Errorf("read timeout with %d command(s) outstanding", outstanding))
				return
			}

			c.mu.Lock()
			shuttingDown := c.shuttingDown
			c.mu.Unlock()
			if !shuttingDown {
				c.fail(fmt.Errorf("read error: %w", err))
			}
			return
		}

		resp, decErr := DecodeDacResponse(buf)
		if decErr != nil {
			c.fail(decErr)
			return
		}

		c.mu.Lock()
		c.status = resp.Status
		c.statusReceivedTime = time.Now()

		if resp.Status.State == DacStateIdle {
			c.beginSent = false
		}

		if resp.Command == 'd' {
			if len(c.unackedBlocks) == 0 {
				c.mu.Unlock()
				c.fail(fmt.Errorf("unackedBlocks underflow"))
				return
			}
			c.unackedBlocks = c.unackedBlocks[1:]
		} else {
			if c.pendingMetaAcks == 0 {
				c.mu.Unlock()
				c.fail(fmt.Errorf("pendingMetaAcks underflow"))
				return
			}
			c.pendingMetaAcks--
		}

		fatal := resp.Fatal()
		c.cond.Broadcast()
		c.mu.Unlock()

		if fatal {
			c.fail(fmt.Errorf("fatal DAC response byte %q", resp.Response))
			return
		}
	}
}

func (c *Connection) writeWithDeadline(buf []byte) error {
	if err := c.netConn.SetWriteDeadline(time.Now().Add(CommTimeout)); err != nil {
		return err
	}
	_, err := c.netConn.Write(buf)
	return err
}

func (c *Connection) writeBegin(rate uint32) error {
	buf := make([]byte, 7)
	buf[0] = 'b'
	putU16LE(buf, 1, 0)
	putU32LE(buf, 3, rate)
	return c.writeWithDeadline(buf)
}

func (c *Connection) writeQueue(rate uint32) error {
	buf := make([]byte, 5)
	buf[0] = 'q'
	putU32LE(buf, 1, rate)
	return c.writeWithDeadline(buf)
}

func (c *Connection) writeData(points []byte) error {
	n := len(points) / PointSize
	buf := make([]byte, 3+len(points))
	buf[0] = 'd'
	putU16LE(buf, 1, uint16(n))
	copy(buf[3:], points)
	return c.writeWithDeadline(buf)
}
