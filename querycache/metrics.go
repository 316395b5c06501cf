package querycache

import "go.opentelemetry.io/otel/metric"

type cacheMetrics struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	invalidations metric.Int64Counter
	expirations   metric.Int64Counter
}

func newCacheMetrics(meter metric.Meter) (*cacheMetrics, error) {
	hits, err := meter.Int64Counter(
		"rdb.querycache.hits",
		metric.WithDescription("Select requests answered from the result cache."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"rdb.querycache.misses",
		metric.WithDescription("Select requests that had to read pages."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"rdb.querycache.invalidations",
		metric.WithDescription("Entries dropped because a table in their scope was written."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	expirations, err := meter.Int64Counter(
		"rdb.querycache.expirations",
		metric.WithDescription("Entries dropped on lookup for being older than the TTL."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &cacheMetrics{
		hits:          hits,
		misses:        misses,
		invalidations: invalidations,
		expirations:   expirations,
	}, nil
}
