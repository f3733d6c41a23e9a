package transfer

import (
	"sync"
	"sync/atomic"
	"time"

	"serialarq/codec"
	"serialarq/link"
	"serialarq/window"
)

// burstCap returns the number of frames sent per Link.Write call,
// keyed by the on-wire frame size, per spec.md §4.4 step 2.
func burstCap(frameSize int) int {
	switch {
	case frameSize > 50000:
		return 1
	case frameSize > 10000:
		return 4
	case frameSize > 1000:
		return 8
	default:
		return 16
	}
}

// PayloadPattern generates the deterministic byte at position i within
// frame j, used both to build outgoing frames and to self-check incoming
// ones (spec.md §6).
type PayloadPattern func(frameNum int32, byteIdx int) byte

// ClientToServerPattern implements p[j][i] = i mod 256.
func ClientToServerPattern(_ int32, i int) byte { return byte(i % 256) }

// ServerToClientPattern implements p[j][i] = (255 - (i mod 256)) mod 256.
func ServerToClientPattern(_ int32, i int) byte { return byte(255 - (i % 256)) }

// Sender drives one send phase: a burst-transmit worker and an
// ack-listener worker sharing a single Link and Window.
type Sender struct {
	Link        link.Link
	Reporter    ProgressReporter
	Retransmits int32
}

// Send transmits frameCount frames of payloadSize bytes each, built from
// pattern, and blocks until every frame has been acknowledged.
func (s *Sender) Send(frameCount int32, payloadSize int, pattern PayloadPattern) error {
	if s.Reporter == nil {
		s.Reporter = NopReporter{}
	}

	frames := make([]codec.DataFrame, frameCount)
	w := window.New(frameCount)
	for j := int32(0); j < frameCount; j++ {
		payload := make([]byte, payloadSize)
		for i := range payload {
			payload[i] = pattern(j, i)
		}
		frames[j] = codec.NewDataFrame(j, uint16(w.Size()), payload)
	}

	burstLimit := burstCap(codec.DataFrameOverhead + payloadSize)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var listenErr error
	go func() {
		defer wg.Done()
		listenErr = s.ackListener(w, frameCount, stop)
	}()

	for !w.IsComplete() {
		toSend := w.FramesToSend()
		if len(toSend) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if len(toSend) > burstLimit {
			toSend = toSend[:burstLimit]
		}

		var buf []byte
		for _, fn := range toSend {
			frames[fn].WindowSize = uint16(w.Size())
			buf = append(buf, frames[fn].Encode()...)
		}

		n, err := s.Link.Write(buf)
		if err != nil || n != len(buf) {
			atomic.AddInt32(&s.Retransmits, int32(len(toSend)))
			w.Adjust(false, 0)
			continue
		}
		s.Reporter.Report(Event{Kind: "burst_sent", FrameNum: toSend[len(toSend)-1], WindowSize: w.Size(), BytesMoved: len(buf)})
		time.Sleep(100 * time.Microsecond)
	}

	close(stop)
	wg.Wait()
	s.Reporter.Report(Event{Kind: "phase_done", Detail: "send complete"})
	return listenErr
}

// ackListener consumes bitmap ACKs until the window completes or stop
// is closed, per spec.md §4.4's ack-listener worker.
func (s *Sender) ackListener(w *window.Window, frameCount int32, stop <-chan struct{}) error {
	buf := make([]byte, codec.AckFrameSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if w.IsComplete() {
			return nil
		}

		n, err := s.Link.Read(buf, 100*time.Millisecond)
		if err != nil || n != codec.AckFrameSize {
			continue
		}
		ack, err := codec.DecodeAckFrame(buf)
		if err != nil {
			continue
		}

		newlyAcked := 0
		for k := int32(0); k < 32; k++ {
			fn := ack.BaseFrameNum + k
			if fn >= frameCount {
				break
			}
			if ack.Acked(fn) && !w.IsAcked(fn) {
				w.MarkAcked(fn)
				newlyAcked++
			}
		}
		if newlyAcked > 0 {
			prevSize := w.Size()
			w.Adjust(true, 100)
			if w.Size() != prevSize {
				s.Reporter.Report(Event{Kind: "window_resize", Detail: detailResize(prevSize, w.Size())})
			}
			slid := w.Slide()
			if slid > 0 {
				s.Reporter.Report(Event{Kind: "frame_acked", FrameNum: w.Base() - 1})
			}
		}
	}
}
