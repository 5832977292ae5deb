// Package metrics exposes prometheus instruments for the simulation loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	steps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeband",
			Name:      "steps_total",
			Help:      "Generations computed by a worker.",
		},
		[]string{"rank"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifeband",
			Subsystem: "halo",
			Name:      "exchange_duration_seconds",
			Help:      "Time spent exchanging halo rows per step.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"rank"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifeband",
			Name:      "messages_total",
			Help:      "Point-to-point messages by traffic class and direction.",
		},
		[]string{"rank", "tag", "direction"},
	)
	population = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lifeband",
			Name:      "band_population",
			Help:      "Live cells in the worker's band after the last step.",
		},
		[]string{"rank"},
	)
)

// Register adds the instruments to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(steps, exchangeDuration, messages, population)
	})
}

// RecordStep counts one generation and the band's population after it.
func RecordStep(rank, live int) {
	Register()
	label := strconv.Itoa(rank)
	steps.WithLabelValues(label).Inc()
	population.WithLabelValues(label).Set(float64(live))
}

// RecordExchange observes one step's halo exchange.
func RecordExchange(rank int, d time.Duration) {
	Register()
	exchangeDuration.WithLabelValues(strconv.Itoa(rank)).Observe(d.Seconds())
}

// RecordMessage counts one message; direction is "sent" or "received".
func RecordMessage(rank int, tag, direction string) {
	Register()
	messages.WithLabelValues(strconv.Itoa(rank), tag, direction).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Serve exposes Handler at /metrics on addr in the background. onError
// receives any failure other than a normal shutdown. The returned func
// shuts the server down.
func Serve(addr string, onError func(error)) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
