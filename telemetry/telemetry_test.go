package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry(t *testing.T) {
	t.Run("disabled telemetry records nothing", func(t *testing.T) {
		tel, shutdown, err := New(Config{}, nil)
		require.NoError(t, err)
		assert.Nil(t, tel.MeterProvider)

		counter, err := tel.Meter.Int64Counter("rdb.test")
		require.NoError(t, err)
		counter.Add(context.Background(), 1)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("counters are scraped from the metrics endpoint", func(t *testing.T) {
		tel, shutdown, err := New(Config{Enabled: true, PrometheusAddr: "127.0.0.1:0"}, nil)
		require.NoError(t, err)
		defer shutdown(context.Background())

		counter, err := tel.Meter.Int64Counter("rdb.bufferpool.hits")
		require.NoError(t, err)
		counter.Add(context.Background(), 3)

		resp, err := http.Get("http://" + tel.Addr + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "bufferpool")
	})
}
