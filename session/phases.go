package session

import (
	"fmt"
	"time"

	"serialarq/codec"
	"serialarq/link"
)

func (s *Session) clientHandshake() error {
	settings := codec.Settings{
		ProtocolVersion: codec.ProtocolVersion,
		PayloadSize:     int32(s.PayloadSize),
		FrameCount:      s.FrameCount,
	}
	s.logf("Sending settings to server...")
	if _, err := s.Link.Write(settings.Encode()); err != nil {
		return fmt.Errorf("session: failed to send settings: %w", err)
	}

	time.Sleep(100 * time.Millisecond)

	s.logf("Waiting for ACK from server (timeout: 10 seconds)...")
	ack := make([]byte, 3)
	n, err := s.Link.Read(ack, 10*time.Second)
	if err != nil || n != 3 {
		return fmt.Errorf("session: %w: did not receive full ACK from server (%d bytes)", ErrHandshakeFailed, n)
	}
	if string(ack) != "ACK" {
		return fmt.Errorf("session: %w: invalid response from server", ErrHandshakeFailed)
	}
	s.logf("ACK received from server.")
	return nil
}

func (s *Session) serverHandshake() error {
	buf := make([]byte, codec.SettingsSize)
	n, err := s.Link.Read(buf, 60*time.Second)
	if err != nil || n != codec.SettingsSize {
		return fmt.Errorf("session: %w: did not receive settings from client (%d bytes)", ErrHandshakeFailed, n)
	}
	settings, err := codec.DecodeSettings(buf)
	if err != nil {
		return fmt.Errorf("session: %w: %v", ErrHandshakeFailed, err)
	}
	if settings.ProtocolVersion != codec.ProtocolVersion {
		return fmt.Errorf("session: %w: client sent version %d, want %d", ErrVersionMismatch, settings.ProtocolVersion, codec.ProtocolVersion)
	}
	s.PayloadSize = int(settings.PayloadSize)
	s.FrameCount = settings.FrameCount

	if _, err := s.Link.Write([]byte("ACK")); err != nil {
		return fmt.Errorf("session: failed to send ACK: %w", err)
	}
	s.logf("Settings received: payload_size=%d, frame_count=%d", s.PayloadSize, s.FrameCount)
	return nil
}

// sendReadyAck writes the 7-byte READY literal.
func sendReadyAck(l link.Link) error {
	n, err := l.Write(codec.EncodeReady())
	if err != nil || n != codec.ReadyFrameSize {
		return fmt.Errorf("failed to send READY")
	}
	return nil
}

// readyAckMaxAttempts and readyAckPollInterval together bound
// waitForReadyAck's total wait to 30s by default (300 * 100ms), matching
// the original's 300-attempt loop. Tests override them to keep the
// READY-timeout scenario fast.
var (
	readyAckMaxAttempts  = 300
	readyAckPollInterval = 100 * time.Millisecond
)

// waitForReadyAck polls for the READY literal until readyAckMaxAttempts
// polls of readyAckPollInterval each have elapsed.
func waitForReadyAck(l link.Link) bool {
	buf := make([]byte, codec.ReadyFrameSize)
	for attempt := 0; attempt < readyAckMaxAttempts; attempt++ {
		n, err := l.Read(buf, readyAckPollInterval)
		if err == nil && n == codec.ReadyFrameSize && codec.IsReady(buf) {
			return true
		}
	}
	return false
}

// writeResults serializes and writes a Results record.
func writeResults(l link.Link, r codec.Results) error {
	buf := r.Encode()
	n, err := l.Write(buf)
	if err != nil || n != len(buf) {
		return fmt.Errorf("short write (%d/%d bytes): %w", n, len(buf), err)
	}
	return nil
}

// readResults attempts to read a full Results record up to maxRetries
// times, each with a 15 s timeout and a 500 ms pause between attempts,
// matching the original's readResults helper.
func readResults(l link.Link, maxRetries int) (codec.Results, error) {
	buf := make([]byte, codec.ResultsSize)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		n, err := l.Read(buf, 15*time.Second)
		if err == nil && n == codec.ResultsSize {
			return codec.DecodeResults(buf)
		}
		if attempt < maxRetries {
			time.Sleep(500 * time.Millisecond)
		}
	}
	return codec.Results{}, fmt.Errorf("failed to receive results after %d attempts", maxRetries)
}
