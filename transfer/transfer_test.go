package transfer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"serialarq/codec"
	"serialarq/link"
)

func TestBurstCapTable(t *testing.T) {
	cases := []struct {
		frameSize int
		want      int
	}{
		{50001 + 10, 1},
		{10001 + 10, 4},
		{1001 + 10, 8},
		{1000, 16},
		{1, 16},
	}
	for _, c := range cases {
		if got := burstCap(c.frameSize); got != c.want {
			t.Errorf("burstCap(%d) = %d, want %d", c.frameSize, got, c.want)
		}
	}
}

func TestSendReceiveSmallPayload(t *testing.T) {
	a, b := link.NewPipePair()
	defer a.Close()
	defer b.Close()

	const frameCount = 1
	const payloadSize = 1

	sender := &Sender{Link: a}
	receiver := &Receiver{Link: b}

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = sender.Send(frameCount, payloadSize, ClientToServerPattern)
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.Receive(frameCount, payloadSize, ClientToServerPattern)
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive: %v", recvErr)
	}
	if receiver.ReceivedCount != frameCount {
		t.Fatalf("ReceivedCount = %d, want %d", receiver.ReceivedCount, frameCount)
	}
	if receiver.Errors != 0 {
		t.Fatalf("Errors = %d, want 0", receiver.Errors)
	}
	wantBytes := int64(frameCount * (payloadSize + 10))
	if receiver.ReceivedBytes != wantBytes {
		t.Fatalf("ReceivedBytes = %d, want %d", receiver.ReceivedBytes, wantBytes)
	}
}

func TestSendReceiveGrowsWindow(t *testing.T) {
	a, b := link.NewPipePair()
	defer a.Close()
	defer b.Close()

	const frameCount = 32
	const payloadSize = 64

	resizes := &resizeRecorder{}
	sender := &Sender{Link: a, Reporter: resizes}
	receiver := &Receiver{Link: b}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sender.Send(frameCount, payloadSize, ClientToServerPattern)
	}()
	go func() {
		defer wg.Done()
		receiver.Receive(frameCount, payloadSize, ClientToServerPattern)
	}()
	wg.Wait()

	if receiver.ReceivedCount != frameCount {
		t.Fatalf("ReceivedCount = %d, want %d", receiver.ReceivedCount, frameCount)
	}
	wantBytes := int64(frameCount * (payloadSize + 10))
	if receiver.ReceivedBytes != wantBytes {
		t.Fatalf("ReceivedBytes = %d, want %d", receiver.ReceivedBytes, wantBytes)
	}
	grew := false
	for _, d := range resizes.details {
		if d == "16 -> 32" {
			grew = true
		}
	}
	if !grew {
		t.Fatalf("window resizes = %v, want a 16 -> 32 step", resizes.details)
	}
}

// resizeRecorder records the Detail of every window_resize event.
type resizeRecorder struct {
	mu      sync.Mutex
	details []string
}

func (r *resizeRecorder) Report(e Event) {
	if e.Kind != "window_resize" {
		return
	}
	r.mu.Lock()
	r.details = append(r.details, e.Detail)
	r.mu.Unlock()
}

// S3: payload_size=1024, frame_count=10, one frame corrupted mid-flight
// (single bit flipped in payload of frame 3). corruptingLink models the
// scenario end to end: it fails the first burst write outright (so the
// sender's retransmit counter moves), then flips a payload bit in frame
// 3's first real delivery and swallows the immediate ACK racing back for
// it, forcing the ordinary no-ack resend path to redeliver frame 3
// uncorrupted, exactly like line noise that damages one frame and eats
// its ACK.
func TestSendReceiveCorruptedFrameRetransmits(t *testing.T) {
	a, b := link.NewPipePair()
	defer a.Close()
	defer b.Close()

	const frameCount = 10
	const payloadSize = 1024
	frameSize := codec.DataFrameOverhead + payloadSize

	flaky := &corruptingLink{Link: a, targetFrame: 3, frameSize: frameSize}
	sender := &Sender{Link: flaky}
	receiver := &Receiver{Link: b}

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = sender.Send(frameCount, payloadSize, ClientToServerPattern)
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.Receive(frameCount, payloadSize, ClientToServerPattern)
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive: %v", recvErr)
	}
	if sender.Retransmits < 1 {
		t.Fatalf("Retransmits = %d, want >= 1", sender.Retransmits)
	}
	if receiver.Errors < 1 {
		t.Fatalf("Errors = %d, want >= 1 (frame 3's corrupted first delivery)", receiver.Errors)
	}
	if receiver.ReceivedCount != frameCount {
		t.Fatalf("ReceivedCount = %d, want %d", receiver.ReceivedCount, frameCount)
	}
	wantBytes := int64(frameCount * frameSize)
	if receiver.ReceivedBytes != wantBytes {
		t.Fatalf("ReceivedBytes = %d, want %d (a double-counted duplicate would inflate this)", receiver.ReceivedBytes, wantBytes)
	}
}

// S4: payload_size=60000, frame_count=2. The on-wire frame size exceeds
// 50000 bytes, so the burst cap collapses to a single frame per write,
// and the derived write timeout at 115200 baud must clear 12s.
func TestSendReceiveLargePayloadSingleFrameBursts(t *testing.T) {
	a, b := link.NewPipePair()
	defer a.Close()
	defer b.Close()

	const frameCount = 2
	const payloadSize = 60000
	frameSize := codec.DataFrameOverhead + payloadSize

	if got := burstCap(frameSize); got != 1 {
		t.Fatalf("burstCap(%d) = %d, want 1", frameSize, got)
	}
	if got := link.DeriveTimeout(frameSize, 115200); got < 12*time.Second {
		t.Fatalf("DeriveTimeout(%d, 115200) = %v, want >= 12s", frameSize, got)
	}

	sender := &Sender{Link: a}
	receiver := &Receiver{Link: b}

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = sender.Send(frameCount, payloadSize, ClientToServerPattern)
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.Receive(frameCount, payloadSize, ClientToServerPattern)
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive: %v", recvErr)
	}
	if receiver.ReceivedCount != frameCount {
		t.Fatalf("ReceivedCount = %d, want %d", receiver.ReceivedCount, frameCount)
	}
}

// corruptingLink wraps a Link to inject, each exactly once: a burst
// write failure (so Sender.Retransmits moves), a single-bit payload
// corruption of targetFrame's first real delivery, and a dropped ACK
// for that same corrupted delivery so the sender doesn't mistake it for
// success. Everything after those three events passes through
// unmodified.
type corruptingLink struct {
	link.Link
	targetFrame int32
	frameSize   int

	mu             sync.Mutex
	failedWrite    bool
	corruptedFrame bool
	droppedAck     bool
}

var errSimulatedAckLoss = errors.New("transfer: simulated ack loss")

func (c *corruptingLink) Write(buf []byte) (int, error) {
	c.mu.Lock()
	failThis := !c.failedWrite
	c.failedWrite = true
	c.mu.Unlock()
	if failThis {
		return len(buf) - 1, nil
	}

	c.mu.Lock()
	corruptThis := !c.corruptedFrame
	c.mu.Unlock()
	if corruptThis {
		if off := findDataFrame(buf, c.targetFrame, c.frameSize); off >= 0 {
			out := append([]byte(nil), buf...)
			out[off+9] ^= 0x01
			c.mu.Lock()
			c.corruptedFrame = true
			c.mu.Unlock()
			return c.Link.Write(out)
		}
	}
	return c.Link.Write(buf)
}

func (c *corruptingLink) Read(buf []byte, timeout time.Duration) (int, error) {
	n, err := c.Link.Read(buf, timeout)
	if err != nil || n != codec.AckFrameSize {
		return n, err
	}
	ack, decErr := codec.DecodeAckFrame(buf[:n])
	if decErr != nil || !ack.Acked(c.targetFrame) {
		return n, err
	}

	c.mu.Lock()
	dropThis := !c.droppedAck
	c.droppedAck = true
	c.mu.Unlock()
	if dropThis {
		return 0, errSimulatedAckLoss
	}
	return n, err
}

// findDataFrame scans buf, a concatenated burst of fixed-size data
// frames, for the offset of the one whose frame number is frameNum.
func findDataFrame(buf []byte, frameNum int32, frameSize int) int {
	for off := 0; off+frameSize <= len(buf); off += frameSize {
		df, err := codec.DecodeDataFrame(buf[off : off+frameSize])
		if err == nil && df.FrameNum == frameNum {
			return off
		}
	}
	return -1
}
