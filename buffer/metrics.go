package buffer

import "go.opentelemetry.io/otel/metric"

type poolMetrics struct {
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	evictions  metric.Int64Counter
	writeBacks metric.Int64Counter
}

func newPoolMetrics(meter metric.Meter) (*poolMetrics, error) {
	hits, err := meter.Int64Counter(
		"rdb.bufferpool.hits",
		metric.WithDescription("Page fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"rdb.bufferpool.misses",
		metric.WithDescription("Page fetches that read from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"rdb.bufferpool.evictions",
		metric.WithDescription("Frames reclaimed from resident pages."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeBacks, err := meter.Int64Counter(
		"rdb.bufferpool.writebacks",
		metric.WithDescription("Dirty pages written to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &poolMetrics{
		hits:       hits,
		misses:     misses,
		evictions:  evictions,
		writeBacks: writeBacks,
	}, nil
}
