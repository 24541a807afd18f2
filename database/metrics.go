/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dimesoftware/dime/database"

// MetricsHook records statement counts, failures and latency through the
// OpenTelemetry metric API. Exporters are configured by the host process.
type MetricsHook struct {
	queries  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	system   attribute.KeyValue
}

var _ bun.QueryHook = (*MetricsHook)(nil)

// NewMetricsHook creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetricsHook(meter metric.Meter, system string) (*MetricsHook, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	queries, err := meter.Int64Counter("db.client.queries",
		metric.WithDescription("Number of executed statements"))
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}
	failures, err := meter.Int64Counter("db.client.failures",
		metric.WithDescription("Number of failed statements"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	duration, err := meter.Float64Histogram("db.client.duration",
		metric.WithDescription("Statement latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return &MetricsHook{
		queries:  queries,
		failures: failures,
		duration: duration,
		system:   attribute.String("db.system", system),
	}, nil
}

func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	attrs := metric.WithAttributes(h.system, attribute.String("db.operation", event.Operation()))
	h.queries.Add(ctx, 1, attrs)
	h.duration.Record(ctx, time.Since(event.StartTime).Seconds(), attrs)
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.failures.Add(ctx, 1, attrs)
	}
}
