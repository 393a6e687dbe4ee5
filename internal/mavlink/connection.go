package mavlink

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"

	"OctaFlight/internal/device"
)

var ErrBadConnection = errors.New("mavlink: bad connection string")

// openPort opens serial connections; tests replace it.
var openPort = func(dev string, baud int) (device.Port, error) {
	return device.OpenSerial(dev, baud)
}

// Kind is the transport of a Connection.
type Kind int

const (
	KindUDPListen Kind = iota + 1
	KindUDPOut
	KindTCP
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindUDPListen:
		return "udp"
	case KindUDPOut:
		return "udpout"
	case KindTCP:
		return "tcp"
	case KindSerial:
		return "serial"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Connection is a parsed connection string:
//
//	udp:host:port           listen for the autopilot
//	udpout:host:port        send to the autopilot
//	tcp:host:port           connect to the autopilot
//	serial:/dev/ttyX:baud   serial line
type Connection struct {
	Kind    Kind
	Address string
	Baud    int
}

func (c Connection) String() string {
	if c.Kind == KindSerial {
		return fmt.Sprintf("serial:%s:%d", c.Address, c.Baud)
	}
	return c.Kind.String() + ":" + c.Address
}

// ParseConnection parses s. A bare host:port is taken as udp.
func ParseConnection(s string) (Connection, error) {
	s = strings.TrimSpace(s)
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Connection{}, fmt.Errorf("%w: %q", ErrBadConnection, s)
	}

	var c Connection
	switch scheme {
	case "udp", "udpin":
		c.Kind = KindUDPListen
	case "udpout":
		c.Kind = KindUDPOut
	case "tcp":
		c.Kind = KindTCP
	case "serial":
		return parseSerial(rest)
	default:
		// host:port without a scheme
		c.Kind = KindUDPListen
		rest = s
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: %q: %v", ErrBadConnection, s, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return Connection{}, fmt.Errorf("%w: %q: bad port", ErrBadConnection, s)
	}
	c.Address = net.JoinHostPort(host, port)
	return c, nil
}

func parseSerial(rest string) (Connection, error) {
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return Connection{}, fmt.Errorf("%w: serial:%s: want serial:device:baud", ErrBadConnection, rest)
	}
	baud, err := strconv.Atoi(rest[i+1:])
	if err != nil || baud <= 0 {
		return Connection{}, fmt.Errorf("%w: serial:%s: bad baud rate", ErrBadConnection, rest)
	}
	return Connection{Kind: KindSerial, Address: rest[:i], Baud: baud}, nil
}

// Endpoint builds the gomavlib endpoint for c. For serial lines it opens
// the port and returns it as the closer; other transports return a nil
// closer since the node owns their sockets.
func (c Connection) Endpoint() (gomavlib.EndpointConf, io.Closer, error) {
	switch c.Kind {
	case KindUDPListen:
		return gomavlib.EndpointUDPServer{Address: c.Address}, nil, nil
	case KindUDPOut:
		return gomavlib.EndpointUDPClient{Address: c.Address}, nil, nil
	case KindTCP:
		return gomavlib.EndpointTCPClient{Address: c.Address}, nil, nil
	case KindSerial:
		port, err := openPort(c.Address, c.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", c.Address, err)
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: port}, port, nil
	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrBadConnection, c.Kind)
	}
}
