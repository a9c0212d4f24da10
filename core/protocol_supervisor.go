package core

/*------------------------------------------------------------------
 *
 * Purpose:	Own the single active Connection to one DAC and keep
 *		reconnecting to it indefinitely, the way the teacher's
 *		connect_listen_thread keeps re-accepting after a dropped
 *		client (kissnet.go).
 *
 *------------------------------------------------------------------*/

import (
	"sync"
	"time"
)

// reconnectBackoff is the pause between a dropped connection and the
// next dial attempt (spec §4.3: sleep(COMM_TIMEOUT) before retrying).
const reconnectBackoff = CommTimeout

// Supervisor maintains exactly one live Connection to a DAC, replacing
// it with a fresh one whenever RunSender returns, until Shutdown is
// called (spec §4.3).
type Supervisor struct {
	dac DiscoveredDac

	mu         sync.Mutex
	cond       *sync.Cond
	conn       *Connection
	shutdown   bool
	pending    []*PointBlock
	dialFunc   func(DiscoveredDac) (*Connection, error)
	sleepFunc  func(time.Duration)
	exited     chan struct{}
}

// NewSupervisor constructs a Supervisor for dac. Call Run in its own
// goroutine to start the reconnect loop.
func NewSupervisor(dac DiscoveredDac) *Supervisor {
	s := &Supervisor{
		dac:       dac,
		dialFunc:  Dial,
		sleepFunc: time.Sleep,
		exited:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Run dials, streams, and reconnects until Shutdown is called. It
// returns once the supervisor has given up for good.
func (s *Supervisor) Run() {
	defer close(s.exited)

	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		conn, err := s.dialFunc(s.dac)
		if err != nil {
			logWarn("supervisor: dial %s failed: %v", s.dac.ID, err)

			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				return
			}

			s.sleepFunc(reconnectBackoff)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		for _, block := range s.pending {
			conn.AddFrame(block)
		}
		s.pending = nil
		shutdownAlready := s.shutdown
		s.mu.Unlock()

		if shutdownAlready {
			conn.RequestShutdown()
		}

		if err := conn.RunSender(); err != nil {
			logWarn("supervisor: connection to %s ended: %v", s.dac.ID, err)
		}

		s.mu.Lock()
		s.conn = nil
		done := s.shutdown
		s.mu.Unlock()

		if done {
			return
		}

		s.sleepFunc(reconnectBackoff)
	}
}

// AddFrame forwards a point block to the current connection, or
// buffers it (capped the same way Connection.AddFrame caps its own
// queue) if no connection is currently live, e.g. while reconnecting.
func (s *Supervisor) AddFrame(block *PointBlock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn.AddFrame(block)
	}

	if len(s.pending) > maxQueuedFrames {
		return false
	}
	s.pending = append(s.pending, block)
	return true
}

// IsReady reports whether the current connection (if any) can accept
// more frames without back-pressure.
func (s *Supervisor) IsReady() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return true
	}
	return conn.IsReadyUnlocked()
}

// Status returns the current connection's last known DacStatus, or
// the zero value if no connection is currently live.
func (s *Supervisor) Status() DacStatus {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return DacStatus{}
	}
	return conn.Status()
}

// Shutdown stops the reconnect loop and tears down the active
// connection, then blocks until Run has returned.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.RequestShutdown()
	}

	<-s.exited
}
