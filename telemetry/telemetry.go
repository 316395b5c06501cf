// Package telemetry wires the OpenTelemetry meter used by the buffer pool,
// the query cache and the engine to a Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.uber.org/zap"
)

type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// PrometheusAddr is the listen address of the /metrics endpoint, for
	// example ":9464". Empty means metrics are collected but not served.
	PrometheusAddr string `yaml:"prometheus_addr"`
}

type ShutdownFunc func(ctx context.Context) error

// New returns the meter components should record into. When telemetry is
// disabled the meter is a no-op.
func New(config Config, logger *zap.Logger) (*Telemetry, ShutdownFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		return &Telemetry{Meter: noop.NewMeterProvider().Meter("")}, func(context.Context) error { return nil }, nil
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = "rdb"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating telemetry resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	tel := &Telemetry{
		MeterProvider: provider,
		Meter:         provider.Meter(serviceName),
		Registry:      registry,
	}

	var server *http.Server
	if config.PrometheusAddr != "" {
		listener, err := net.Listen("tcp", config.PrometheusAddr)
		if err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, nil, fmt.Errorf("error listening on %s: %w", config.PrometheusAddr, err)
		}
		tel.Addr = listener.Addr().String()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", tel.Addr))
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var errs []error
		if server != nil {
			errs = append(errs, server.Shutdown(ctx))
		}
		errs = append(errs, provider.Shutdown(ctx))
		return errors.Join(errs...)
	}

	return tel, shutdown, nil
}

type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	Registry      *promclient.Registry
	// Addr is the bound metrics address when an endpoint is served.
	Addr string
}
