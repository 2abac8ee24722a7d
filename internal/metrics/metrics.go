// Package metrics exposes fdbmonitor's internal counters over Prometheus,
// per SPEC_FULL.md's domain-stack wiring: a small, loopback-only HTTP
// listener rather than anything exercising the supervision logic itself.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric the supervisor updates as it runs.
type Registry struct {
	reg *prometheus.Registry

	RunningChildren prometheus.Gauge
	Restarts        prometheus.Counter
	SpawnErrors     prometheus.Counter
	ConfigReloads   prometheus.Counter
	WatchRebuilds   prometheus.Counter
}

// New constructs a Registry with every metric registered under it.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RunningChildren: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdbmonitor",
			Name:      "running_children",
			Help:      "Number of child processes currently running.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdbmonitor",
			Name:      "restarts_total",
			Help:      "Total number of child process restarts.",
		}),
		SpawnErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdbmonitor",
			Name:      "spawn_errors_total",
			Help:      "Total number of failed child process launches.",
		}),
		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdbmonitor",
			Name:      "config_reloads_total",
			Help:      "Total number of configuration file reloads.",
		}),
		WatchRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdbmonitor",
			Name:      "watch_rebuilds_total",
			Help:      "Total number of symlink-chain watch rebuilds.",
		}),
	}

	reg.MustRegister(r.RunningChildren, r.Restarts, r.SpawnErrors, r.ConfigReloads, r.WatchRebuilds)
	return r
}

// Serve starts a loopback-only HTTP server exposing /metrics on addr
// (typically "127.0.0.1:0" for an ephemeral port, or a configured
// loopback address), returning the listener's actual address. The server
// is torn down when ctx is canceled.
func (r *Registry) Serve(ctx context.Context, addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return "", fmt.Errorf("metrics: %q is not a loopback address", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	go srv.Serve(ln)

	return ln.Addr().String(), nil
}
