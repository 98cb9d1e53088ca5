package channel

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// settleDelay gives the controller time to finish its reset chatter
// after the port opens; Grbl resets when DTR toggles.
const settleDelay = 2 * time.Second

// Serial talks to a mill on a local serial port at 8-N-1.
type Serial struct {
	cfg   serial.Config
	port  *serial.Port
	buf   []byte
	sleep func(time.Duration)
}

var _ Channel = (*Serial)(nil)

// NewSerial prepares a channel for the named device. A zero baud rate
// selects the Grbl default of 115200.
func NewSerial(device string, baud int) *Serial {
	if baud == 0 {
		baud = 115200
	}
	return &Serial{
		cfg: serial.Config{
			Name:        device,
			Baud:        baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: 10 * time.Second,
		},
		sleep: time.Sleep,
	}
}

func (s *Serial) Open() error {
	if s.port != nil {
		return nil
	}
	port, err := serial.OpenPort(&s.cfg)
	if err != nil {
		return &ConnectionError{Op: "open", Err: err}
	}
	s.sleep(settleDelay)
	s.port = port
	s.buf = nil
	log.Printf("mill serial port %s open", s.cfg.Name)
	return nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	port := s.port
	s.port = nil
	if err := port.Flush(); err != nil {
		log.Printf("ERROR: flush %s on close: %v", s.cfg.Name, err)
	}
	if err := port.Close(); err != nil {
		return &ConnectionError{Op: "close", Err: err}
	}
	return nil
}

func (s *Serial) Flush() error {
	if s.port == nil {
		return &ConnectionError{Op: "flush", Err: errors.New("port not open")}
	}
	s.buf = nil
	return s.port.Flush()
}

func (s *Serial) WriteLine(text string) error {
	if s.port == nil {
		return &ConnectionError{Op: "write", Err: errors.New("port not open")}
	}
	_, err := s.port.Write([]byte(text + "\n"))
	return err
}

// ReadLine assembles the next newline-terminated line. A read timeout
// with no pending data yields an empty line.
func (s *Serial) ReadLine() (string, error) {
	if s.port == nil {
		return "", &ConnectionError{Op: "read", Err: errors.New("port not open")}
	}
	chunk := make([]byte, 256)
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := strings.TrimRight(string(s.buf[:i]), "\r")
			s.buf = s.buf[i+1:]
			return line, nil
		}
		n, err := s.port.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			return "", err
		}
		// timed out with an incomplete or empty line
		return "", nil
	}
}
