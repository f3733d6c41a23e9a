package link

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialLink is a Link backed by a real serial port, opened 8N1 with
// hardware flow control disabled. Grounded on
// sender/sender.go's newSerialKISSConnection and
// original_source/.../SerialPort::open (DCB / buffer-size setup).
type SerialLink struct {
	port serial.Port
	baud int

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// OpenSerial opens portName at baud, 8 data bits, no parity, one stop
// bit, no hardware flow control, and purges both buffers. It requests no
// RX/TX buffer size; the driver's default buffer sizes apply.
func OpenSerial(portName string, baud int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(DeriveTimeout(0, baud)); err != nil {
		port.Close()
		return nil, err
	}
	sl := &SerialLink{port: port, baud: baud}
	if err := sl.Purge(); err != nil {
		// Purge failure on open is non-fatal; log-worthy but not aborting,
		// matching the original's "Warning: Failed to purge buffers on open".
		_ = err
	}
	return sl, nil
}

// Write blocks for as long as the underlying port driver's write call
// does, which for a buffered UART is effectively bounded by the derived
// timeout in practice; go.bug.st/serial exposes no write deadline to
// enforce it directly, matching the library's actual surface.
func (s *SerialLink) Write(buf []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.port.Write(buf)
}

func (s *SerialLink) Read(buf []byte, timeout time.Duration) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if timeout == 0 {
		timeout = DeriveTimeout(len(buf), s.baud)
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	total := 0
	deadline := time.Now().Add(timeout)
	for total < len(buf) {
		n, err := s.port.Read(buf[total:])
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n == 0 {
			// go.bug.st/serial returns n==0, err==nil on read-timeout expiry.
			if total > 0 {
				return total, nil
			}
			return 0, errTimeout("read")
		}
		total += n
		if time.Now().After(deadline) {
			break
		}
	}
	return total, nil
}

func (s *SerialLink) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.port.Drain()
}

func (s *SerialLink) Purge() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.ResetOutputBuffer()
}

func (s *SerialLink) Close() error {
	return s.port.Close()
}

type timeoutError string

func errTimeout(op string) error {
	return timeoutError(op + ": timed out")
}

func (e timeoutError) Error() string   { return string(e) }
func (e timeoutError) Timeout() bool   { return true }
func (e timeoutError) Temporary() bool { return true }
