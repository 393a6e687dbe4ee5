package mavlink

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"OctaFlight/internal/flight"
	"OctaFlight/internal/geo"
)

// Server publishes an airframe as an ArduCopter autopilot: it streams
// heartbeat, GPS and position telemetry and executes incoming commands.
type Server struct {
	ap   flight.Autopilot
	log  *slog.Logger
	send func(message.Message)
	boot time.Time

	mu    sync.Mutex
	speed float64
}

// NewServer wraps ap.
func NewServer(ap flight.Autopilot, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		ap:   ap,
		log:  log.With(slog.String("component", "mavlink-server")),
		boot: time.Now(),
	}
}

// Serve listens on conn and runs until ctx is done, publishing telemetry
// every period.
func (s *Server) Serve(ctx context.Context, conn Connection, period time.Duration) error {
	ep, closer, err := conn.Endpoint()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{ep},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      1,
		HeartbeatDisable: true,
	})
	if err != nil {
		return fmt.Errorf("mavlink node %s: %w", conn, err)
	}
	defer node.Close()
	s.send = func(m message.Message) { node.WriteMessageAll(m) }
	s.log.Info("serving vehicle", slog.String("connection", conn.String()))

	if period <= 0 {
		period = 200 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.publish(ctx)
		case evt, ok := <-node.Events():
			if !ok {
				return nil
			}
			if frm, ok := evt.(*gomavlib.EventFrame); ok {
				s.handle(ctx, frm.Message())
			}
		}
	}
}

// publish sends one round of telemetry.
func (s *Server) publish(ctx context.Context) {
	mode, _ := s.ap.FlightMode(ctx)
	armed, _ := s.ap.Armed(ctx)
	armable, _ := s.ap.IsArmable(ctx)

	status := common.MAV_STATE_BOOT
	switch {
	case armed:
		status = common.MAV_STATE_ACTIVE
	case armable:
		status = common.MAV_STATE_STANDBY
	}
	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	if armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	custom, _ := CustomMode(mode)

	s.send(&common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:       base,
		CustomMode:     custom,
		SystemStatus:   status,
		MavlinkVersion: 3,
	})

	abs, err := s.ap.Position(ctx)
	if err != nil {
		return
	}
	rel, err := s.ap.RelativePosition(ctx)
	if err != nil {
		return
	}
	fix := common.GPS_FIX_TYPE_NO_FIX
	sats := uint8(0)
	if armable {
		fix, sats = common.GPS_FIX_TYPE_3D_FIX, 10
	}
	s.send(&common.MessageGpsRawInt{
		TimeUsec:          uint64(time.Since(s.boot).Microseconds()),
		FixType:           fix,
		Lat:               int32(math.Round(abs.Lat * 1e7)),
		Lon:               int32(math.Round(abs.Lon * 1e7)),
		Alt:               int32(math.Round(abs.Alt * 1000)),
		SatellitesVisible: sats,
	})
	s.send(&common.MessageGlobalPositionInt{
		TimeBootMs:  uint32(time.Since(s.boot).Milliseconds()),
		Lat:         int32(math.Round(abs.Lat * 1e7)),
		Lon:         int32(math.Round(abs.Lon * 1e7)),
		Alt:         int32(math.Round(abs.Alt * 1000)),
		RelativeAlt: int32(math.Round(rel.Alt * 1000)),
	})
}

// handle executes one message from the ground station.
func (s *Server) handle(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageSetMode:
		name := ModeName(m.CustomMode)
		if err := s.ap.SetMode(ctx, name); err != nil {
			s.log.Warn("set mode failed", slog.String("mode", name), slog.Any("error", err))
			return
		}
		s.log.Info("mode", slog.String("mode", name))

	case *common.MessageCommandLong:
		s.ack(m.Command, s.command(ctx, m))

	case *common.MessageSetPositionTargetGlobalInt:
		loc := geo.Location{
			Lat: float64(m.LatInt) / 1e7,
			Lon: float64(m.LonInt) / 1e7,
			Alt: float64(m.Alt),
		}
		switch m.CoordinateFrame {
		case common.MAV_FRAME_GLOBAL_INT, common.MAV_FRAME_GLOBAL:
			loc.Frame = geo.FrameAbsolute
		case common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT, common.MAV_FRAME_GLOBAL_RELATIVE_ALT:
			loc.Frame = geo.FrameRelativeToHome
		default:
			s.log.Warn("unsupported position target frame", slog.String("frame", fmt.Sprint(m.CoordinateFrame)))
			return
		}
		s.mu.Lock()
		speed := s.speed
		s.mu.Unlock()
		if err := s.ap.Goto(ctx, loc, speed); err != nil {
			s.log.Warn("goto failed", slog.Any("error", err))
		}
	}
}

func (s *Server) command(ctx context.Context, m *common.MessageCommandLong) common.MAV_RESULT {
	var err error
	switch m.Command {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		err = s.ap.Arm(ctx, m.Param1 == 1)
	case common.MAV_CMD_NAV_TAKEOFF:
		err = s.ap.Takeoff(ctx, float64(m.Param7))
	case common.MAV_CMD_DO_CHANGE_SPEED:
		if m.Param2 > 0 {
			s.mu.Lock()
			s.speed = float64(m.Param2)
			s.mu.Unlock()
		}
	default:
		return common.MAV_RESULT_UNSUPPORTED
	}
	if err != nil {
		s.log.Warn("command failed", slog.String("command", fmt.Sprint(m.Command)), slog.Any("error", err))
		return common.MAV_RESULT_FAILED
	}
	return common.MAV_RESULT_ACCEPTED
}

func (s *Server) ack(cmd common.MAV_CMD, res common.MAV_RESULT) {
	s.send(&common.MessageCommandAck{Command: cmd, Result: res})
}

// Speed returns the groundspeed last set by DO_CHANGE_SPEED.
func (s *Server) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}
