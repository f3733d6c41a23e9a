package transfer

import (
	"sync/atomic"
	"time"

	"serialarq/codec"
	"serialarq/link"
)

// Receiver drives one reception phase: immediate-ACK consumption of
// frameCount frames, validating against a deterministic payload pattern.
type Receiver struct {
	Link     link.Link
	Reporter ProgressReporter

	ReceivedBytes int64
	ReceivedCount int32
	Errors        int32
}

// Receive reads frameCount frames of payloadSize bytes each, ACKing each
// one immediately on structural validity (before checksum/pattern
// verification — spec.md §4.4 step 4 and §9's immediate-ACK note), and
// blocks until every sequence number 0..frameCount has been seen.
func (r *Receiver) Receive(frameCount int32, payloadSize int, pattern PayloadPattern) error {
	if r.Reporter == nil {
		r.Reporter = NopReporter{}
	}

	received := make(map[int32]bool, frameCount)
	cursor := int32(0)
	frameSize := codec.DataFrameOverhead + payloadSize
	buf := make([]byte, frameSize)

	for cursor < frameCount {
		n, err := r.Link.Read(buf, 3*time.Second)
		if err != nil || n != frameSize {
			continue
		}

		if buf[0] != codec.SOF || buf[frameSize-1] != codec.EOF {
			atomic.AddInt32(&r.Errors, 1)
			continue
		}

		frame, err := codec.DecodeDataFrame(buf)
		if err != nil {
			atomic.AddInt32(&r.Errors, 1)
			continue
		}

		// Immediate ACK: sent before checksum/payload verification so the
		// sender can slide even if this peer discards the frame below.
		var ack codec.AckFrame
		ack.BaseFrameNum = frame.FrameNum
		ack.SetAcked(frame.FrameNum)
		r.Link.Write(ack.Encode())

		if received[frame.FrameNum] {
			// Duplicate: already delivered, so skip checksum/pattern
			// verification entirely and neither count bytes nor advance
			// cursor (spec.md §4.4 step 5, ahead of steps 6-7).
			continue
		}

		if err := frame.Verify(); err != nil {
			atomic.AddInt32(&r.Errors, 1)
			continue
		}
		if !validatePattern(frame.Payload, frame.FrameNum, pattern) {
			atomic.AddInt32(&r.Errors, 1)
			continue
		}

		received[frame.FrameNum] = true
		atomic.AddInt64(&r.ReceivedBytes, int64(frameSize))

		for received[cursor] {
			atomic.AddInt32(&r.ReceivedCount, 1)
			r.Reporter.Report(Event{Kind: "frame_received", FrameNum: cursor})
			cursor++
		}
	}

	r.Reporter.Report(Event{Kind: "phase_done", Detail: "receive complete"})
	return nil
}

func validatePattern(payload []byte, frameNum int32, pattern PayloadPattern) bool {
	for i, b := range payload {
		if b != pattern(frameNum, i) {
			return false
		}
	}
	return true
}
