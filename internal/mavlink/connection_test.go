package mavlink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bluenviron/gomavlib/v3"

	"OctaFlight/internal/device"
)

func TestParseConnection(t *testing.T) {
	tests := []struct {
		in   string
		want Connection
	}{
		{"udp:127.0.0.1:14551", Connection{Kind: KindUDPListen, Address: "127.0.0.1:14551"}},
		{"udpin:0.0.0.0:14550", Connection{Kind: KindUDPListen, Address: "0.0.0.0:14550"}},
		{"udpout:10.0.0.2:14550", Connection{Kind: KindUDPOut, Address: "10.0.0.2:14550"}},
		{"tcp:localhost:5760", Connection{Kind: KindTCP, Address: "localhost:5760"}},
		{"127.0.0.1:14551", Connection{Kind: KindUDPListen, Address: "127.0.0.1:14551"}},
		{"serial:/dev/ttyUSB0:57600", Connection{Kind: KindSerial, Address: "/dev/ttyUSB0", Baud: 57600}},
		{"serial:COM3:115200", Connection{Kind: KindSerial, Address: "COM3", Baud: 115200}},
	}
	for _, tt := range tests {
		got, err := ParseConnection(tt.in)
		if err != nil {
			t.Fatalf("ParseConnection(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseConnection(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseConnectionRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"udp",
		"udp:127.0.0.1",
		"udp:127.0.0.1:0",
		"tcp:host:http",
		"serial:/dev/ttyUSB0",
		"serial:/dev/ttyUSB0:fast",
		"serial::57600",
	} {
		if _, err := ParseConnection(in); !errors.Is(err, ErrBadConnection) {
			t.Fatalf("ParseConnection(%q) err = %v, want ErrBadConnection", in, err)
		}
	}
}

func TestConnectionString(t *testing.T) {
	for _, in := range []string{"udp:127.0.0.1:14551", "udpout:10.0.0.2:14550", "serial:/dev/ttyACM0:921600"} {
		c, err := ParseConnection(in)
		if err != nil {
			t.Fatalf("ParseConnection(%q): %v", in, err)
		}
		if c.String() != in {
			t.Fatalf("String() = %q, want %q", c.String(), in)
		}
	}
}

func TestConnectionEndpoint(t *testing.T) {
	c := Connection{Kind: KindUDPOut, Address: "127.0.0.1:14550"}
	ep, closer, err := c.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if closer != nil {
		t.Fatalf("udp endpoint returned a closer")
	}
	if got, ok := ep.(gomavlib.EndpointUDPClient); !ok || got.Address != c.Address {
		t.Fatalf("endpoint = %#v", ep)
	}

	if _, _, err := (Connection{}).Endpoint(); !errors.Is(err, ErrBadConnection) {
		t.Fatalf("zero connection err = %v, want ErrBadConnection", err)
	}
}

type bufPort struct {
	bytes.Buffer
	name   string
	closed bool
}

func (p *bufPort) Close() error { p.closed = true; return nil }
func (p *bufPort) Name() string { return p.name }

func TestSerialEndpoint(t *testing.T) {
	saved := openPort
	defer func() { openPort = saved }()

	var opened *bufPort
	openPort = func(dev string, baud int) (device.Port, error) {
		if baud != 57600 {
			t.Fatalf("baud = %d", baud)
		}
		opened = &bufPort{name: dev}
		return opened, nil
	}
	ep, closer, err := Connection{Kind: KindSerial, Address: "/dev/ttyACM0", Baud: 57600}.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	custom, ok := ep.(gomavlib.EndpointCustom)
	if !ok || custom.ReadWriteCloser != opened {
		t.Fatalf("endpoint = %#v", ep)
	}
	if err := closer.Close(); err != nil || !opened.closed {
		t.Fatalf("closer did not close the port")
	}

	openPort = func(string, int) (device.Port, error) { return nil, device.ErrPortClosed }
	if _, _, err := (Connection{Kind: KindSerial, Address: "/dev/none", Baud: 9600}).Endpoint(); !errors.Is(err, device.ErrPortClosed) {
		t.Fatalf("open failure err = %v", err)
	}
}
