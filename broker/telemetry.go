// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package broker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	queriesCounter            metric.Int64Counter
	compilationErrorsCounter  metric.Int64Counter
	accessDeniedCounter       metric.Int64Counter
	resourceMissingCounter    metric.Int64Counter
	quotaExceededCounter      metric.Int64Counter
	validationErrorsCounter   metric.Int64Counter
	unknownColumnCounter      metric.Int64Counter
	noServerFoundCounter      metric.Int64Counter
	groupsLimitReachedCounter metric.Int64Counter
	internalErrorsCounter     metric.Int64Counter
	phaseDurationHistogram    metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/querybroker/broker")

	var err error

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, cerr := meter.Int64Counter(name, metric.WithDescription(desc))
		if cerr != nil {
			panic(fmt.Errorf("failed to create %s counter: %w", name, cerr))
		}
		return c
	}

	queriesCounter = mustCounter("querybroker.queries",
		"Number of queries received by the broker")
	compilationErrorsCounter = mustCounter("querybroker.compilation.exceptions",
		"Number of queries that failed to compile")
	accessDeniedCounter = mustCounter("querybroker.requests.dropped.access",
		"Number of queries dropped by access control")
	resourceMissingCounter = mustCounter("querybroker.resource.missing.exceptions",
		"Number of queries against tables with no live routing entry")
	quotaExceededCounter = mustCounter("querybroker.quota.exceeded",
		"Number of queries rejected by the per-table quota gate")
	validationErrorsCounter = mustCounter("querybroker.validation.exceptions",
		"Number of queries that failed broker-side validation")
	unknownColumnCounter = mustCounter("querybroker.query.nonexistent.columns",
		"Number of queries referencing columns absent from the table schema")
	noServerFoundCounter = mustCounter("querybroker.no.server.found.exceptions",
		"Number of queries for which no eligible server was found")
	groupsLimitReachedCounter = mustCounter("querybroker.responses.groups.limit.reached",
		"Number of responses that hit the group-by result cap")
	internalErrorsCounter = mustCounter("querybroker.internal.exceptions",
		"Number of queries that failed with an unclassified internal error")

	phaseDurationHistogram, err = meter.Float64Histogram(
		"querybroker.phase.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in ms of each query pipeline phase"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create phase.duration histogram: %w", err))
	}
}

func recordPhaseTiming(ctx context.Context, table string, phase Phase, d time.Duration) {
	phaseDurationHistogram.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("phase", string(phase)),
	))
}

func addTableCount(ctx context.Context, counter metric.Int64Counter, table string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}
