// Package mavlink connects to an ArduCopter autopilot over MAVLink using
// gomavlib. Link is the ground side used by missions; Serve is the vehicle
// side, publishing a simulated airframe so a Link can fly it.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"OctaFlight/internal/geo"
)

var ErrNoTelemetry = errors.New("mavlink: no telemetry from vehicle")

// gcsSystemID is the conventional system id of a ground station.
const gcsSystemID = 255

// Telemetry is the latest vehicle state decoded from the link.
type Telemetry struct {
	SystemID     uint8
	Mode         string
	Armed        bool
	SystemStatus common.MAV_STATE
	FixType      common.GPS_FIX_TYPE
	Satellites   int
	Lat          float64
	Lon          float64
	Alt          float64 // metres above mean sea level
	RelativeAlt  float64 // metres above home
	Groundspeed  float64
	Heartbeat    time.Time
	Position     time.Time
}

// LinkConfig describes the ground side of a MAVLink connection.
type LinkConfig struct {
	Connection string        `yaml:"connection"`
	SystemID   int           `yaml:"system_id"`
	Ready      time.Duration `yaml:"ready_timeout"`
}

// Link talks to one vehicle. It implements flight.Autopilot.
type Link struct {
	log  *slog.Logger
	send func(message.Message)

	node   *gomavlib.Node
	closer io.Closer
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tel   Telemetry
	ready chan struct{}
	once  sync.Once

	// component of the autopilot, set by its first heartbeat
	compID uint8
	locked bool
}

func newLink(send func(message.Message), log *slog.Logger) *Link {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Link{
		log:   log.With(slog.String("component", "mavlink")),
		send:  send,
		tel:   Telemetry{SystemID: 1},
		ready: make(chan struct{}),
	}
}

// Dial opens the connection described by cfg and starts decoding
// telemetry. Close releases it.
func Dial(cfg LinkConfig, log *slog.Logger) (*Link, error) {
	conn, err := ParseConnection(cfg.Connection)
	if err != nil {
		return nil, err
	}
	ep, closer, err := conn.Endpoint()
	if err != nil {
		return nil, err
	}
	sysID := cfg.SystemID
	if sysID <= 0 || sysID > 255 {
		sysID = gcsSystemID
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: byte(sysID),
	})
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("mavlink node %s: %w", conn, err)
	}

	l := newLink(func(m message.Message) { node.WriteMessageAll(m) }, log)
	l.node = node
	l.closer = closer
	l.log.Info("link open", slog.String("connection", conn.String()))

	l.wg.Add(1)
	go l.readLoop()
	return l, nil
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	for evt := range l.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			l.handle(e.SystemID(), e.ComponentID(), e.Message())
		case *gomavlib.EventChannelOpen:
			l.log.Info("channel open", slog.String("channel", fmt.Sprint(e.Channel)))
		case *gomavlib.EventChannelClose:
			l.log.Warn("channel closed", slog.String("channel", fmt.Sprint(e.Channel)))
		case *gomavlib.EventParseError:
			l.log.Debug("parse error", slog.Any("error", e.Error))
		}
	}
}

// handle folds one incoming message into the telemetry snapshot. The
// first autopilot heartbeat pins the system and component that state is
// taken from; gimbals, cameras, companions and other ground stations on
// the same link are ignored.
func (l *Link) handle(sysID, compID uint8, msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()

	if hb, ok := msg.(*common.MessageHeartbeat); ok {
		if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		if l.locked && (sysID != l.tel.SystemID || compID != l.compID) {
			return
		}
		if !l.locked {
			l.log.Info("autopilot found", slog.Int("system", int(sysID)), slog.Int("component", int(compID)))
		}
		l.locked, l.compID = true, compID
	} else if l.locked && sysID != l.tel.SystemID {
		return
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		l.tel.SystemID = sysID
		l.tel.Mode = ModeName(m.CustomMode)
		l.tel.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		l.tel.SystemStatus = m.SystemStatus
		l.tel.Heartbeat = now
	case *common.MessageGlobalPositionInt:
		l.tel.Lat = float64(m.Lat) / 1e7
		l.tel.Lon = float64(m.Lon) / 1e7
		l.tel.Alt = float64(m.Alt) / 1000
		l.tel.RelativeAlt = float64(m.RelativeAlt) / 1000
		l.tel.Groundspeed = math.Hypot(float64(m.Vx), float64(m.Vy)) / 100
		l.tel.Position = now
	case *common.MessageGpsRawInt:
		l.tel.FixType = m.FixType
		l.tel.Satellites = int(m.SatellitesVisible)
	case *common.MessageCommandAck:
		if m.Result != common.MAV_RESULT_ACCEPTED {
			l.log.Warn("command rejected",
				slog.String("command", fmt.Sprint(m.Command)),
				slog.String("result", fmt.Sprint(m.Result)))
		}
	default:
		return
	}

	if !l.tel.Heartbeat.IsZero() && !l.tel.Position.IsZero() {
		l.once.Do(func() { close(l.ready) })
	}
}

// Telemetry returns a copy of the latest vehicle state.
func (l *Link) Telemetry() Telemetry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tel
}

// WaitReady blocks until both a heartbeat and a position have arrived.
func (l *Link) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w within %v", ErrNoTelemetry, timeout)
		}
		return ctx.Err()
	}
}

// Close stops the reader and closes the node.
func (l *Link) Close() error {
	if l.node != nil {
		l.node.Close()
	}
	l.wg.Wait()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *Link) Position(context.Context) (geo.Location, error) {
	t := l.Telemetry()
	if t.Position.IsZero() {
		return geo.Location{}, ErrNoTelemetry
	}
	return geo.Location{Lat: t.Lat, Lon: t.Lon, Alt: t.Alt, Frame: geo.FrameAbsolute}, nil
}

func (l *Link) RelativePosition(context.Context) (geo.Location, error) {
	t := l.Telemetry()
	if t.Position.IsZero() {
		return geo.Location{}, ErrNoTelemetry
	}
	return geo.Location{Lat: t.Lat, Lon: t.Lon, Alt: t.RelativeAlt, Frame: geo.FrameRelativeToHome}, nil
}

func (l *Link) FlightMode(context.Context) (string, error) {
	t := l.Telemetry()
	if t.Heartbeat.IsZero() {
		return "", ErrNoTelemetry
	}
	return t.Mode, nil
}

func (l *Link) Armed(context.Context) (bool, error) {
	t := l.Telemetry()
	if t.Heartbeat.IsZero() {
		return false, ErrNoTelemetry
	}
	return t.Armed, nil
}

// IsArmable reports whether the autopilot has finished booting and has
// at least a 2D GPS fix.
func (l *Link) IsArmable(context.Context) (bool, error) {
	t := l.Telemetry()
	if t.Heartbeat.IsZero() {
		return false, nil
	}
	booted := t.SystemStatus == common.MAV_STATE_STANDBY || t.SystemStatus == common.MAV_STATE_ACTIVE
	return booted && t.FixType >= common.GPS_FIX_TYPE_2D_FIX, nil
}

func (l *Link) target() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tel.SystemID
}

func (l *Link) command(cmd common.MAV_CMD, params ...float32) {
	var p [7]float32
	copy(p[:], params)
	l.send(&common.MessageCommandLong{
		TargetSystem:    l.target(),
		TargetComponent: 1,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	})
}

func (l *Link) Arm(_ context.Context, arm bool) error {
	var p float32
	if arm {
		p = 1
	}
	l.command(common.MAV_CMD_COMPONENT_ARM_DISARM, p)
	return nil
}

func (l *Link) SetMode(_ context.Context, mode string) error {
	custom, err := CustomMode(mode)
	if err != nil {
		return err
	}
	l.send(&common.MessageSetMode{
		TargetSystem: l.target(),
		BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		CustomMode:   custom,
	})
	return nil
}

func (l *Link) Takeoff(_ context.Context, altitude float64) error {
	l.command(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitude))
	return nil
}

// positionOnly ignores velocity, acceleration and yaw in a position target.
const positionOnly = 0b0000_1111_1111_1000

// Goto sets the groundspeed, then commands a position target in the frame
// carried by loc.
func (l *Link) Goto(_ context.Context, loc geo.Location, groundspeed float64) error {
	var frame common.MAV_FRAME
	switch loc.Frame {
	case geo.FrameAbsolute:
		frame = common.MAV_FRAME_GLOBAL_INT
	case geo.FrameRelativeToHome:
		frame = common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT
	default:
		return fmt.Errorf("goto: %w: %v", geo.ErrInvalidLocationKind, loc.Frame)
	}

	if groundspeed > 0 {
		// speed type 1 is groundspeed; throttle -1 leaves it unchanged
		l.command(common.MAV_CMD_DO_CHANGE_SPEED, 1, float32(groundspeed), -1)
	}
	l.send(&common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    l.target(),
		TargetComponent: 1,
		CoordinateFrame: frame,
		TypeMask:        common.POSITION_TARGET_TYPEMASK(positionOnly),
		LatInt:          int32(math.Round(loc.Lat * 1e7)),
		LonInt:          int32(math.Round(loc.Lon * 1e7)),
		Alt:             float32(loc.Alt),
	})
	return nil
}
