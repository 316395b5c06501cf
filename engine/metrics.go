package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	operations  metric.Int64Counter
	rowsWritten metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	operations, err := meter.Int64Counter(
		"rdb.engine.operations",
		metric.WithDescription("Operations executed against the database."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rowsWritten, err := meter.Int64Counter(
		"rdb.engine.rows_written",
		metric.WithDescription("Rows inserted, updated or deleted."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &engineMetrics{
		operations:  operations,
		rowsWritten: rowsWritten,
	}, nil
}

func (m *engineMetrics) record(op, table string, rows int) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("table", table),
	)

	m.operations.Add(context.Background(), 1, attrs)
	if rows > 0 {
		m.rowsWritten.Add(context.Background(), int64(rows), attrs)
	}
}
