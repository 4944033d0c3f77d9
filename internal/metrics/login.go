package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login-flow Prometheus metrics. Standalone package so discovery and flow
// can both increment without import cycles.

var (
	LoginAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_login_attempts_total",
		Help: "Callback completions attempted",
	})

	LoginSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_login_success_total",
		Help: "Logins that resolved to a local identity",
	})

	LoginFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_login_failures_total",
		Help: "Failed login attempts by error kind",
	}, []string{"kind"})

	DiscoveryCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_discovery_cache_hits_total",
		Help: "Discovery resolutions served from cache",
	})

	DiscoveryCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_discovery_cache_misses_total",
		Help: "Discovery resolutions that fetched from the provider",
	})
)

// Register registers the login metrics on the given registry (default if
// nil). Re-registration is tolerated so host plugins can call it from
// activation hooks that may run more than once.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		LoginAttempts, LoginSuccesses, LoginFailures,
		DiscoveryCacheHits, DiscoveryCacheMisses,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
