package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

var ErrPortClosed = errors.New("serial port not open")

// SerialPort implements Port using go.bug.st/serial. A closed port can be
// reopened with Open.
type SerialPort struct {
	mu   sync.Mutex
	port serial.Port
	dev  string
	baud int
}

// OpenSerial opens dev at baud, 8N1.
func OpenSerial(dev string, baud int) (*SerialPort, error) {
	s := &SerialPort{dev: dev, baud: baud}
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open ensures that the serial port is ready for use.
func (s *SerialPort) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	p, err := serial.Open(s.dev, &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.dev, err)
	}
	s.port = p
	return nil
}

// SetReadTimeout bounds each Read; zero blocks until data arrives.
func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	p := s.current()
	if p == nil {
		return ErrPortClosed
	}
	if d <= 0 {
		d = serial.NoTimeout
	}
	return p.SetReadTimeout(d)
}

func (s *SerialPort) Read(b []byte) (int, error) {
	p := s.current()
	if p == nil {
		return 0, ErrPortClosed
	}
	return p.Read(b)
}

func (s *SerialPort) Write(b []byte) (int, error) {
	p := s.current()
	if p == nil {
		return 0, ErrPortClosed
	}
	return p.Write(b)
}

// Close closes the underlying serial connection.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Name returns the device path.
func (s *SerialPort) Name() string { return s.dev }

func (s *SerialPort) current() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
