// Package session orchestrates the three-phase handshake, the
// bidirectional transfer, and the results exchange atop a single Link,
// as specified in spec.md §4.5. Grounded on
// original_source/MySerial/SerialCommunicator.cpp's clientMode/
// serverMode and sendReadyAck/waitForReadyAck/readResults.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"serialarq/codec"
	"serialarq/link"
	"serialarq/transfer"
)

// Role identifies which side of the handshake a Session plays.
type Role int

const (
	Client Role = iota
	Server
)

var (
	ErrVersionMismatch = errors.New("session: protocol version mismatch")
	ErrHandshakeFailed = errors.New("session: handshake failed")
	ErrReadyTimeout    = errors.New("session: READY rendezvous timed out")
	ErrResultsFailed   = errors.New("session: failed to exchange results after retries")
)

// Counters is the live snapshot exposed to the status surface.
type Counters struct {
	Phase             string
	LocalRetransmits  int32
	LocalReceived     int32
	LocalErrors       int32
	RemoteReceived    int32
	RemoteErrors      int32
	RemoteRetransmits int32
}

// Session drives one end-to-end run: handshake, two transfers, results.
type Session struct {
	Link     link.Link
	Role     Role
	Reporter transfer.ProgressReporter
	Logger   interface {
		Printf(format string, v ...interface{})
	}

	PayloadSize int
	FrameCount  int32

	// mu guards phase, local, and remote: Run's goroutine writes them
	// while an optional status-HTTP handler goroutine calls Snapshot
	// concurrently (cmd/client's and cmd/server's statusserver.Server).
	mu     sync.Mutex
	local  codec.Results
	remote codec.Results
	phase  string

	sender   transfer.Sender
	receiver transfer.Receiver
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Session) setPhase(p string) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Session) setRemote(r codec.Results) {
	s.mu.Lock()
	s.remote = r
	s.mu.Unlock()
}

func (s *Session) setLocal(r codec.Results) {
	s.mu.Lock()
	s.local = r
	s.mu.Unlock()
}

// Snapshot returns the current observable counters for a status surface.
// The Sender/Receiver counters are mutated by their own transfer
// goroutines via sync/atomic, so they are loaded the same way here;
// phase and remote are Session's own state, guarded by mu.
func (s *Session) Snapshot() Counters {
	s.mu.Lock()
	phase := s.phase
	remote := s.remote
	s.mu.Unlock()
	return Counters{
		Phase:             phase,
		LocalRetransmits:  atomic.LoadInt32(&s.sender.Retransmits),
		LocalReceived:     atomic.LoadInt32(&s.receiver.ReceivedCount),
		LocalErrors:       atomic.LoadInt32(&s.receiver.Errors),
		RemoteReceived:    remote.ReceivedFrames,
		RemoteErrors:      remote.Errors,
		RemoteRetransmits: remote.Retransmits,
	}
}

// Results returns the local and remote Results records, valid only
// after Run has completed Phase 3 successfully.
func (s *Session) Results() (local, remote codec.Results) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local, s.remote
}

// Run drives the full session per spec.md §4.5, in the role-appropriate
// order. It returns once Results have been exchanged in both directions
// or an unrecoverable protocol error occurs.
func (s *Session) Run() error {
	s.sender = transfer.Sender{Link: s.Link, Reporter: s.Reporter}
	s.receiver = transfer.Receiver{Link: s.Link, Reporter: s.Reporter}

	if s.Role == Client {
		return s.runClient()
	}
	return s.runServer()
}

func (s *Session) runClient() error {
	s.setPhase("phase0_handshake")
	if err := s.clientHandshake(); err != nil {
		return err
	}

	start := time.Now()

	s.setPhase("phase1_send")
	s.logf("Phase 1: transmitting %d frames of %d bytes", s.FrameCount, s.PayloadSize)
	if err := s.sender.Send(s.FrameCount, s.PayloadSize, transfer.ClientToServerPattern); err != nil {
		return fmt.Errorf("session: phase 1 send: %w", err)
	}
	s.logf("Phase 1 complete: all frames transmitted and acknowledged")

	s.setPhase("phase2_receive")
	s.logf("Phase 2: receiving %d frames of %d bytes", s.FrameCount, s.PayloadSize)
	if err := s.receiver.Receive(s.FrameCount, s.PayloadSize, transfer.ServerToClientPattern); err != nil {
		return fmt.Errorf("session: phase 2 receive: %w", err)
	}
	s.logf("Phase 2 complete: all frames received and validated")

	s.setLocal(s.buildLocalResults(start))

	s.setPhase("phase3_results")
	time.Sleep(1 * time.Second)

	if err := sendReadyAck(s.Link); err != nil {
		return fmt.Errorf("session: %w: %v", ErrHandshakeFailed, err)
	}
	if !waitForReadyAck(s.Link) {
		return ErrReadyTimeout
	}
	s.logf("Synchronization complete. Starting result exchange.")

	if err := writeResults(s.Link, s.local); err != nil {
		return fmt.Errorf("session: failed to send results: %w", err)
	}
	s.Link.Flush()

	remote, err := readResults(s.Link, 3)
	if err != nil {
		return fmt.Errorf("session: %w", ErrResultsFailed)
	}
	s.setRemote(remote)
	s.setPhase("done")
	return nil
}

func (s *Session) runServer() error {
	s.setPhase("phase0_handshake")
	if err := s.serverHandshake(); err != nil {
		return err
	}

	start := time.Now()

	s.setPhase("phase1_receive")
	s.logf("Phase 1: receiving %d frames of %d bytes", s.FrameCount, s.PayloadSize)
	if err := s.receiver.Receive(s.FrameCount, s.PayloadSize, transfer.ClientToServerPattern); err != nil {
		return fmt.Errorf("session: phase 1 receive: %w", err)
	}
	s.logf("Phase 1 complete: all frames received and validated")

	s.setPhase("phase2_send")
	s.logf("Phase 2: transmitting %d frames of %d bytes", s.FrameCount, s.PayloadSize)
	if err := s.sender.Send(s.FrameCount, s.PayloadSize, transfer.ServerToClientPattern); err != nil {
		return fmt.Errorf("session: phase 2 send: %w", err)
	}
	s.logf("Phase 2 complete: all frames transmitted and acknowledged")

	s.setLocal(s.buildLocalResults(start))

	s.setPhase("phase3_results")
	time.Sleep(1 * time.Second)

	if !waitForReadyAck(s.Link) {
		return ErrReadyTimeout
	}
	if err := sendReadyAck(s.Link); err != nil {
		return fmt.Errorf("session: %w: %v", ErrHandshakeFailed, err)
	}
	s.logf("Synchronization complete. Starting result exchange.")

	remote, err := readResults(s.Link, 3)
	if err != nil {
		return fmt.Errorf("session: %w", ErrResultsFailed)
	}
	s.setRemote(remote)

	if err := writeResults(s.Link, s.local); err != nil {
		return fmt.Errorf("session: failed to send results: %w", err)
	}
	s.Link.Flush()

	s.setPhase("done")
	return nil
}

func (s *Session) buildLocalResults(start time.Time) codec.Results {
	elapsed := time.Since(start).Seconds()
	r := codec.Results{
		TotalReceivedBytes: atomic.LoadInt64(&s.receiver.ReceivedBytes),
		ReceivedFrames:     atomic.LoadInt32(&s.receiver.ReceivedCount),
		Errors:             atomic.LoadInt32(&s.receiver.Errors),
		Retransmits:        atomic.LoadInt32(&s.sender.Retransmits),
		ElapsedSeconds:     elapsed,
	}
	if elapsed > 0 {
		r.ThroughputMiBps = float64(r.TotalReceivedBytes) / (1024.0 * 1024.0) / elapsed
		r.CharsPerSecond = float64(r.TotalReceivedBytes) / elapsed
	}
	return r
}
