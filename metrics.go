package authcore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Login             *prometheus.CounterVec
	Refresh           *prometheus.CounterVec
	Authorize         *prometheus.CounterVec
	BlacklistFailOpen prometheus.Counter
	DeviceEvictions   prometheus.Counter
	RevocationRetry   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_login_total",
			Help: "Authentication attempts by result.",
		}, []string{"result"}),
		Refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_refresh_total",
			Help: "Refresh token rotations by result.",
		}, []string{"result"}),
		Authorize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_authorize_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"decision"}),
		BlacklistFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_blacklist_fail_open_total",
			Help: "Blacklist reads that degraded to not-blacklisted because cache and fallback were unavailable.",
		}),
		DeviceEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_device_evictions_total",
			Help: "Devices evicted to stay within the per-user quota.",
		}),
		RevocationRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_revocation_retries_total",
			Help: "Final outcome of retried eviction cascades.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Login, m.Refresh, m.Authorize, m.BlacklistFailOpen, m.DeviceEvictions, m.RevocationRetry} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLoginThrottled):
		return "throttled"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
