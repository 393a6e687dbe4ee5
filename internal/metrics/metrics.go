// Package metrics exports mission progress as Prometheus metrics. The
// Collector is a nav.Observer, so every controller poll updates it.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"OctaFlight/internal/nav"
)

// Collector bundles the mission metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Speed        prometheus.Gauge
	Remaining    prometheus.Gauge
	TimeLeft     prometheus.Gauge
	Waypoint     prometheus.Gauge
	SpeedUpdates prometheus.Counter
	Divergent    prometheus.Counter
	Outcomes     *prometheus.CounterVec
	Lateness     prometheus.Histogram
	Missions     *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}

	var err error
	if c.Speed, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octaflight_commanded_speed_mps",
		Help: "Groundspeed sent with the latest goto command.",
	}), "octaflight_commanded_speed_mps"); err != nil {
		return nil, err
	}
	if c.Remaining, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octaflight_remaining_distance_m",
		Help: "Ground distance to the current waypoint at the latest poll.",
	}), "octaflight_remaining_distance_m"); err != nil {
		return nil, err
	}
	if c.TimeLeft, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octaflight_time_left_seconds",
		Help: "Time until the current waypoint's deadline; negative when late.",
	}), "octaflight_time_left_seconds"); err != nil {
		return nil, err
	}
	if c.Waypoint, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octaflight_current_waypoint",
		Help: "Index of the waypoint being flown to.",
	}), "octaflight_current_waypoint"); err != nil {
		return nil, err
	}
	if c.SpeedUpdates, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octaflight_speed_updates_total",
		Help: "Speed recomputations performed by the controller.",
	}), "octaflight_speed_updates_total"); err != nil {
		return nil, err
	}
	if c.Divergent, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octaflight_divergent_speed_requests_total",
		Help: "Polls where the deadline had passed and the fallback speed was used.",
	}), "octaflight_divergent_speed_requests_total"); err != nil {
		return nil, err
	}
	if c.Outcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "octaflight_waypoints_total",
		Help: "Completed transits, labeled by outcome.",
	}, []string{"outcome"}), "octaflight_waypoints_total"); err != nil {
		return nil, err
	}
	if c.Lateness, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "octaflight_waypoint_lateness_seconds",
		Help:    "Finish time minus deadline per transit; negative is early.",
		Buckets: []float64{-10, -5, -2, -1, 0, 1, 2, 5, 10, 30},
	}), "octaflight_waypoint_lateness_seconds"); err != nil {
		return nil, err
	}
	if c.Missions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "octaflight_missions_total",
		Help: "Finished missions, labeled ok or error.",
	}, []string{"result"}), "octaflight_missions_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) MissionStarted(context.Context, nav.MissionState, []nav.Waypoint) {
	c.Waypoint.Set(0)
}

func (c *Collector) TransitTick(_ context.Context, at nav.TransitAttempt) {
	c.Waypoint.Set(float64(at.Waypoint))
	c.Speed.Set(at.Speed)
	c.Remaining.Set(at.Remaining)
	c.TimeLeft.Set(at.TimeLeft.Seconds())
	if at.Divergent {
		c.Divergent.Inc()
	}
}

func (c *Collector) WaypointDone(_ context.Context, res nav.WaypointResult) {
	c.Outcomes.WithLabelValues(res.Outcome.String()).Inc()
	c.SpeedUpdates.Add(float64(res.Updates))
	c.Lateness.Observe(res.Lateness().Seconds())
}

func (c *Collector) MissionFinished(_ context.Context, _ []nav.WaypointResult, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Missions.WithLabelValues(result).Inc()
}

// register adds col to reg, reusing an identical collector that is already
// registered under name.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
