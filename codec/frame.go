// Package codec implements the wire format for the serial ARQ protocol:
// data frames, bitmap ACKs, READY synchronization frames, the initial
// Settings record, and the end-of-session Results record.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	SOF    = 0x02
	SOFAck = 0x04
	EOF    = 0x03

	// DataFrameOverhead is SOF(1) + FrameNum(4) + WindowSize(2) + Checksum(2) + EOF(1).
	DataFrameOverhead = 10

	// AckFrameSize is SOF_ACK(1) + "ACK"(3) + BaseFrameNum(4) + Bitmap(4) + EOF(1).
	AckFrameSize = 13

	// ReadyFrameSize is SOF_ACK(1) + "READY"(5) + EOF(1).
	ReadyFrameSize = 7

	// SettingsSize is four little-endian int32 fields.
	SettingsSize = 16

	// ResultsSize is the explicit little-endian Results layout (spec.md §6).
	ResultsSize = 8 + 4 + 4 + 4 + 8 + 8 + 8

	ProtocolVersion = 4

	WindowInit = 16
	WindowMin  = 4
	WindowMax  = 32

	// MaxRetransmitAttempts is carried over from earlier protocol revisions
	// that capped per-frame retransmission. V4 does not consult it in the
	// data path; see DESIGN.md for why it stays unused rather than wired in.
	MaxRetransmitAttempts = 5

	TimeoutSafetyFactor = 2.5
	BaseTimeoutMS       = 500
)

var (
	ErrMalformedFrame   = errors.New("codec: malformed frame")
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")
	ErrShortBuffer      = errors.New("codec: buffer too short")
)

var readyLiteral = [ReadyFrameSize]byte{SOFAck, 'R', 'E', 'A', 'D', 'Y', EOF}

// DataFrame is the unit of payload transport. Checksum is computed once
// at construction time and never recomputed afterward; Verify re-derives
// it from Payload for comparison against the stored value.
type DataFrame struct {
	FrameNum   int32
	WindowSize uint16
	Checksum   uint16
	Payload    []byte
}

// NewDataFrame builds a frame and computes its checksum from payload.
func NewDataFrame(frameNum int32, windowSize uint16, payload []byte) DataFrame {
	return DataFrame{
		FrameNum:   frameNum,
		WindowSize: windowSize,
		Checksum:   Checksum(payload),
		Payload:    payload,
	}
}

// Encode serializes the frame per spec.md §6:
// SOF | frame_num(4) | window_size(2) | checksum(2) | payload | EOF
func (f DataFrame) Encode() []byte {
	buf := make([]byte, DataFrameOverhead+len(f.Payload))
	buf[0] = SOF
	binary.LittleEndian.PutUint32(buf[1:5], uint32(f.FrameNum))
	binary.LittleEndian.PutUint16(buf[5:7], f.WindowSize)
	binary.LittleEndian.PutUint16(buf[7:9], f.Checksum)
	copy(buf[9:9+len(f.Payload)], f.Payload)
	buf[9+len(f.Payload)] = EOF
	return buf
}

// DecodeDataFrame parses a buffer into a DataFrame. It does not verify
// the checksum; call Verify separately, matching spec.md §4.2's split
// between structural parsing and integrity verification.
func DecodeDataFrame(buf []byte) (DataFrame, error) {
	if len(buf) < DataFrameOverhead {
		return DataFrame{}, ErrShortBuffer
	}
	if buf[0] != SOF || buf[len(buf)-1] != EOF {
		return DataFrame{}, ErrMalformedFrame
	}
	payload := make([]byte, len(buf)-DataFrameOverhead)
	copy(payload, buf[9:len(buf)-1])
	return DataFrame{
		FrameNum:   int32(binary.LittleEndian.Uint32(buf[1:5])),
		WindowSize: binary.LittleEndian.Uint16(buf[5:7]),
		Checksum:   binary.LittleEndian.Uint16(buf[7:9]),
		Payload:    payload,
	}, nil
}

// Verify returns ErrChecksumMismatch if the stored checksum does not
// match the payload's recomputed checksum.
func (f DataFrame) Verify() error {
	if Checksum(f.Payload) != f.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// Checksum implements the XOR-with-rotate-left-1 law of spec.md §4.2.
func Checksum(payload []byte) uint16 {
	var sum uint16
	for _, b := range payload {
		sum ^= uint16(b)
		sum = (sum << 1) | (sum >> 15)
	}
	return sum
}

// AckFrame is the bitmap acknowledgement: bit k set means frame
// BaseFrameNum+k is acknowledged. At most 32 consecutive frames.
type AckFrame struct {
	BaseFrameNum int32
	Bitmap       uint32
}

func (a AckFrame) Encode() []byte {
	buf := make([]byte, AckFrameSize)
	buf[0] = SOFAck
	buf[1], buf[2], buf[3] = 'A', 'C', 'K'
	binary.LittleEndian.PutUint32(buf[4:8], uint32(a.BaseFrameNum))
	binary.LittleEndian.PutUint32(buf[8:12], a.Bitmap)
	buf[12] = EOF
	return buf
}

func DecodeAckFrame(buf []byte) (AckFrame, error) {
	if len(buf) != AckFrameSize {
		return AckFrame{}, ErrShortBuffer
	}
	if buf[0] != SOFAck || buf[12] != EOF {
		return AckFrame{}, ErrMalformedFrame
	}
	if buf[1] != 'A' || buf[2] != 'C' || buf[3] != 'K' {
		return AckFrame{}, ErrMalformedFrame
	}
	return AckFrame{
		BaseFrameNum: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Bitmap:       binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Acked reports whether bit k (for frameNum - BaseFrameNum) is set.
func (a AckFrame) Acked(frameNum int32) bool {
	offset := frameNum - a.BaseFrameNum
	if offset < 0 || offset >= 32 {
		return false
	}
	return a.Bitmap&(1<<uint(offset)) != 0
}

// SetAcked sets the bit for frameNum relative to BaseFrameNum, a no-op
// outside the representable [0,32) range.
func (a *AckFrame) SetAcked(frameNum int32) {
	offset := frameNum - a.BaseFrameNum
	if offset >= 0 && offset < 32 {
		a.Bitmap |= 1 << uint(offset)
	}
}

// EncodeReady returns the literal 7-byte READY frame.
func EncodeReady() []byte {
	out := make([]byte, ReadyFrameSize)
	copy(out, readyLiteral[:])
	return out
}

// IsReady reports whether buf is exactly the READY literal.
func IsReady(buf []byte) bool {
	if len(buf) != ReadyFrameSize {
		return false
	}
	for i, b := range buf {
		if b != readyLiteral[i] {
			return false
		}
	}
	return true
}

// Settings is the 16-byte record the client sends once at session start.
type Settings struct {
	ProtocolVersion int32
	PayloadSize     int32
	FrameCount      int32
	Reserved        int32
}

func (s Settings) Encode() []byte {
	buf := make([]byte, SettingsSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.ProtocolVersion))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.PayloadSize))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.FrameCount))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.Reserved))
	return buf
}

func DecodeSettings(buf []byte) (Settings, error) {
	if len(buf) != SettingsSize {
		return Settings{}, ErrShortBuffer
	}
	return Settings{
		ProtocolVersion: int32(binary.LittleEndian.Uint32(buf[0:4])),
		PayloadSize:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		FrameCount:      int32(binary.LittleEndian.Uint32(buf[8:12])),
		Reserved:        int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// Results is the end-of-session summary exchanged by both peers. The
// layout is pinned explicitly (rather than dumped from an in-memory
// struct, as the original C++ does) so peers built in different
// languages or on different architectures interoperate bit-exactly.
type Results struct {
	TotalReceivedBytes int64
	ReceivedFrames     int32
	Errors             int32
	Retransmits        int32
	ElapsedSeconds     float64
	ThroughputMiBps    float64
	CharsPerSecond     float64
}

func (r Results) Encode() []byte {
	buf := make([]byte, ResultsSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.TotalReceivedBytes))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.ReceivedFrames))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Errors))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.Retransmits))
	binary.LittleEndian.PutUint64(buf[20:28], math.Float64bits(r.ElapsedSeconds))
	binary.LittleEndian.PutUint64(buf[28:36], math.Float64bits(r.ThroughputMiBps))
	binary.LittleEndian.PutUint64(buf[36:44], math.Float64bits(r.CharsPerSecond))
	return buf
}

func DecodeResults(buf []byte) (Results, error) {
	if len(buf) != ResultsSize {
		return Results{}, ErrShortBuffer
	}
	return Results{
		TotalReceivedBytes: int64(binary.LittleEndian.Uint64(buf[0:8])),
		ReceivedFrames:     int32(binary.LittleEndian.Uint32(buf[8:12])),
		Errors:             int32(binary.LittleEndian.Uint32(buf[12:16])),
		Retransmits:        int32(binary.LittleEndian.Uint32(buf[16:20])),
		ElapsedSeconds:     math.Float64frombits(binary.LittleEndian.Uint64(buf[20:28])),
		ThroughputMiBps:    math.Float64frombits(binary.LittleEndian.Uint64(buf[28:36])),
		CharsPerSecond:     math.Float64frombits(binary.LittleEndian.Uint64(buf[36:44])),
	}, nil
}
