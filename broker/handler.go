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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cardinalhq/querybroker/internal/logctx"
)

// Config carries the handler's own knobs. Collaborator configuration lives
// with the collaborators.
type Config struct {
	BrokerID           string
	Timeout            time.Duration
	QueryResponseLimit int64
	QueryLogLength     int
	ValidateQueries    bool
}

// Dependencies bundles the external collaborators the pipeline calls into.
// All of them must already be safe for concurrent use.
type Dependencies struct {
	Compiler     Compiler
	Access       AccessControl
	Routing      RoutingProvider
	TimeBoundary TimeBoundaryService
	Quota        QuotaGate
	Schemas      SchemaCache
	Optimizer    Optimizer
	Executor     Executor
	Stats        StatsSink
}

// QueryRequest is the raw incoming request: query text plus per-request
// options.
type QueryRequest struct {
	Query          string            `json:"pql"`
	Trace          bool              `json:"trace,omitempty"`
	DebugOptions   map[string]string `json:"debugOptions,omitempty"`
	SkipValidation bool              `json:"skipValidation,omitempty"`
}

// RequestHandler runs the broker's request pipeline. One Handle call per
// incoming query; requests share nothing but the handler's long-lived
// collaborators and the request-ID counter.
type RequestHandler struct {
	cfg  Config
	deps Dependencies

	requestID atomic.Int64
}

// NewRequestHandler builds a handler. A nil Optimizer gets the default
// flattening pass.
func NewRequestHandler(cfg Config, deps Dependencies) *RequestHandler {
	if deps.Optimizer == nil {
		deps.Optimizer = NewFlattenOptimizer()
	}
	slog.Info("query broker request handler configured",
		slog.String("brokerId", cfg.BrokerID),
		slog.Duration("timeout", cfg.Timeout),
		slog.Int64("queryResponseLimit", cfg.QueryResponseLimit),
		slog.Int("queryLogLength", cfg.QueryLogLength))
	return &RequestHandler{cfg: cfg, deps: deps}
}

// Handle runs one query through the pipeline and always returns a
// well-formed response; every failure path is converted to a coded
// exception. Statistics are recorded exactly once per request no matter
// where the pipeline exits.
func (h *RequestHandler) Handle(ctx context.Context, qr *QueryRequest, identity *RequesterIdentity) (resp *Response) {
	requestID := h.requestID.Add(1)
	stats := NewRequestStats(h.cfg.BrokerID, requestID, qr.Query)
	arrival := stats.ArrivalTime

	ctx = logctx.With(ctx, slog.Int64("requestId", requestID))
	logger := logctx.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling request",
				slog.Any("panic", r),
				slog.String("query", h.truncateQuery(qr.Query)))
			internalErrorsCounter.Add(ctx, 1)
			stats.SetError(InternalErrorCode)
			resp = ErrorResponse(InternalErrorCode, "internal error while processing request")
		}
		stats.TotalTime = time.Since(arrival)
		resp.TimeUsedMs = stats.TotalTime.Milliseconds()
		resp.PhaseTimesMs = stats.PhaseTimesMs()
		h.deps.Stats.Record(stats)
	}()

	// Compile.
	compileStart := time.Now()
	req, err := h.deps.Compiler.Compile(qr.Query)
	stats.RecordPhase(PhaseCompilation, time.Since(compileStart))
	if err != nil {
		logger.Info("query compilation failed",
			slog.String("query", h.truncateQuery(qr.Query)),
			slog.Any("error", err))
		compilationErrorsCounter.Add(ctx, 1)
		stats.SetError(QueryParsingErrorCode)
		return ErrorResponse(QueryParsingErrorCode, err.Error())
	}
	tableName := req.QuerySource.TableName
	rawTableName := ExtractRawTableName(tableName)
	stats.TableName = rawTableName
	ctx = logctx.With(ctx, slog.String("table", rawTableName))
	logger = logctx.FromContext(ctx)
	addTableCount(ctx, queriesCounter, rawTableName)
	recordPhaseTiming(ctx, rawTableName, PhaseCompilation, stats.PhaseDurations[PhaseCompilation])

	// Authorize. Denial is terminal and deliberately non-descriptive.
	authStart := time.Now()
	allowed := h.deps.Access.HasAccess(ctx, identity, req)
	stats.RecordPhase(PhaseAuthorization, time.Since(authStart))
	if !allowed {
		logger.Info("access denied")
		addTableCount(ctx, accessDeniedCounter, rawTableName)
		stats.SetError(AccessDeniedErrorCode)
		return ErrorResponse(AccessDeniedErrorCode, "access denied")
	}
	recordPhaseTiming(ctx, rawTableName, PhaseAuthorization, stats.PhaseDurations[PhaseAuthorization])

	// Resolve which physical copies have a live routing entry.
	resolveStart := time.Now()
	offlineTableName, realtimeTableName := h.resolveTables(tableName)
	stats.RecordPhase(PhaseTableResolve, time.Since(resolveStart))
	if offlineTableName == "" && realtimeTableName == "" {
		logger.Info("no table matches the request", slog.String("query", h.truncateQuery(qr.Query)))
		resourceMissingCounter.Add(ctx, 1)
		stats.SetError(BrokerResourceMissingErrorCode)
		return NoTableResult()
	}

	// Quota gate.
	quotaStart := time.Now()
	acquired := h.deps.Quota.TryAcquire(tableName)
	stats.RecordPhase(PhaseQuota, time.Since(quotaStart))
	if !acquired {
		msg := fmt.Sprintf("request %d exceeds query quota for table %s, query: %s",
			requestID, tableName, h.truncateQuery(qr.Query))
		logger.Info("query quota exceeded", slog.String("table", tableName))
		addTableCount(ctx, quotaExceededCounter, rawTableName)
		stats.SetError(TooManyRequestsErrorCode)
		return ErrorResponse(TooManyRequestsErrorCode, msg)
	}

	// Validate.
	validateStart := time.Now()
	err = h.validateRequest(ctx, req, qr.SkipValidation)
	stats.RecordPhase(PhaseValidation, time.Since(validateStart))
	if err != nil {
		if errors.Is(err, ErrMalformedFilter) {
			logger.Error("malformed filter in compiled request", slog.Any("error", err))
			internalErrorsCounter.Add(ctx, 1)
			stats.SetError(InternalErrorCode)
			return ErrorResponse(InternalErrorCode, "internal error while processing request")
		}
		logger.Info("query validation failed", slog.Any("error", err))
		addTableCount(ctx, validationErrorsCounter, rawTableName)
		stats.SetError(QueryValidationErrorCode)
		return ErrorResponse(QueryValidationErrorCode, err.Error())
	}

	// Per-request options ride along on the compiled request.
	if qr.Trace {
		logger.Debug("trace enabled for request")
		req.EnableTrace = true
	}
	if len(qr.DebugOptions) > 0 {
		logger.Debug("debug options set", slog.Any("debugOptions", qr.DebugOptions))
		req.DebugOptions = qr.DebugOptions
	}

	// Specialize per table type, stitching the time boundary for hybrid
	// fan-out, then optimize each leg.
	timeColumn := h.timeColumnName(rawTableName)
	var offlineReq, realtimeReq *BrokerRequest
	switch {
	case offlineTableName != "" && realtimeTableName != "":
		stats.Fanout = FanoutHybrid
		offlineReq, err = h.specializeHybrid(ctx, req, rawTableName, true)
		if err == nil {
			realtimeReq, err = h.specializeHybrid(ctx, req, rawTableName, false)
		}
		if err != nil {
			logger.Error("failed to split hybrid request", slog.Any("error", err))
			internalErrorsCounter.Add(ctx, 1)
			stats.SetError(InternalErrorCode)
			return ErrorResponse(InternalErrorCode, "internal error while processing request")
		}
		offlineReq = h.deps.Optimizer.Optimize(offlineReq, timeColumn)
		realtimeReq = h.deps.Optimizer.Optimize(realtimeReq, timeColumn)
	case offlineTableName != "":
		stats.Fanout = FanoutOffline
		req.QuerySource.TableName = offlineTableName
		offlineReq = h.deps.Optimizer.Optimize(req, timeColumn)
	default:
		stats.Fanout = FanoutRealtime
		req.QuerySource.TableName = realtimeTableName
		realtimeReq = h.deps.Optimizer.Optimize(req, timeColumn)
	}

	// Route. An empty routing table downgrades that leg to absent.
	routingStart := time.Now()
	var offlineRouting, realtimeRouting RoutingTable
	if offlineReq != nil {
		offlineRouting = h.deps.Routing.GetRoutingTable(offlineReq)
		if len(offlineRouting) == 0 {
			logger.Debug("no offline server found for request")
			offlineReq, offlineRouting = nil, nil
		}
	}
	if realtimeReq != nil {
		realtimeRouting = h.deps.Routing.GetRoutingTable(realtimeReq)
		if len(realtimeRouting) == 0 {
			logger.Debug("no realtime server found for request")
			realtimeReq, realtimeRouting = nil, nil
		}
	}
	stats.RecordPhase(PhaseRouting, time.Since(routingStart))
	if offlineReq == nil && realtimeReq == nil {
		logger.Info("no server found for request", slog.String("query", h.truncateQuery(qr.Query)))
		addTableCount(ctx, noServerFoundCounter, rawTableName)
		stats.SetError(NoServerFoundErrorCode)
		return EmptyResult()
	}
	recordPhaseTiming(ctx, rawTableName, PhaseRouting, stats.PhaseDurations[PhaseRouting])

	// Execute with whatever budget is left, measured from arrival so that
	// per-stage clock drift cannot compound.
	remaining := h.cfg.Timeout - time.Since(arrival)
	if remaining <= 0 {
		logger.Info("request timed out before execution")
		stats.SetError(BrokerTimeoutErrorCode)
		return ErrorResponse(BrokerTimeoutErrorCode, "timeout budget exhausted before execution")
	}
	execCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	execStart := time.Now()
	resp, err = h.deps.Executor.Execute(execCtx, &ExecuteParams{
		RequestID:       requestID,
		Original:        req,
		Offline:         offlineReq,
		OfflineRouting:  offlineRouting,
		Realtime:        realtimeReq,
		RealtimeRouting: realtimeRouting,
		Timeout:         remaining,
	})
	stats.RecordPhase(PhaseExecution, time.Since(execStart))
	if err != nil {
		logger.Error("query execution failed",
			slog.String("query", h.truncateQuery(qr.Query)),
			slog.Any("error", err))
		internalErrorsCounter.Add(ctx, 1)
		stats.SetError(QueryExecutionErrorCode)
		return ErrorResponse(QueryExecutionErrorCode, err.Error())
	}
	recordPhaseTiming(ctx, rawTableName, PhaseExecution, stats.PhaseDurations[PhaseExecution])
	if resp == nil {
		resp = EmptyResult()
	}

	if resp.NumGroupsLimitReached {
		addTableCount(ctx, groupsLimitReachedCounter, rawTableName)
	}

	stats.NumDocsScanned = resp.NumDocsScanned
	stats.NumServersQueried = resp.NumServersQueried
	stats.NumServersResponded = resp.NumServersResponded

	logger.Info("request handled",
		slog.String("table", req.QuerySource.TableName),
		slog.String("fanout", string(stats.Fanout)),
		slog.Int64("timeMs", time.Since(arrival).Milliseconds()),
		slog.Int64("docs", resp.NumDocsScanned),
		slog.Int64("totalDocs", resp.TotalDocs),
		slog.Int64("entriesIn", resp.NumEntriesScannedInFilter),
		slog.Int64("entriesPost", resp.NumEntriesScannedPostFilter),
		slog.Int("segQueried", resp.NumSegmentsQueried),
		slog.Int("segProcessed", resp.NumSegmentsProcessed),
		slog.Int("segMatched", resp.NumSegmentsMatched),
		slog.Int("serversResponded", resp.NumServersResponded),
		slog.Int("serversQueried", resp.NumServersQueried),
		slog.Bool("groupsLimitReached", resp.NumGroupsLimitReached),
		slog.Int("exceptions", len(resp.Exceptions)),
		slog.String("query", h.truncateQuery(qr.Query)))

	return resp
}

// resolveTables returns the physical table names that currently have a
// live routing entry, honoring an explicit type suffix in the query.
func (h *RequestHandler) resolveTables(tableName string) (offline, realtime string) {
	switch TableTypeFromName(tableName) {
	case TableTypeOffline:
		if h.deps.Routing.RoutingTableExists(tableName) {
			offline = tableName
		}
	case TableTypeRealtime:
		if h.deps.Routing.RoutingTableExists(tableName) {
			realtime = tableName
		}
	default:
		if name := OfflineTableName(tableName); h.deps.Routing.RoutingTableExists(name) {
			offline = name
		}
		if name := RealtimeTableName(tableName); h.deps.Routing.RoutingTableExists(name) {
			realtime = name
		}
	}
	return offline, realtime
}

// validateRequest enforces the result caps and, when enabled, checks every
// referenced column against the cached table schema. A schema-cache miss
// triggers an async refresh and skips the column check for this request.
func (h *RequestHandler) validateRequest(ctx context.Context, req *BrokerRequest, skipColumnCheck bool) error {
	if req.HasAggregations() {
		if req.GroupBy != nil && req.GroupBy.TopN > h.cfg.QueryResponseLimit {
			return fmt.Errorf("value for 'TOP' (%d) exceeds maximum allowed value of %d",
				req.GroupBy.TopN, h.cfg.QueryResponseLimit)
		}
	} else if req.Selections != nil {
		if int64(req.Selections.Size) > h.cfg.QueryResponseLimit {
			return fmt.Errorf("value for 'LIMIT' (%d) exceeds maximum allowed value of %d",
				req.Selections.Size, h.cfg.QueryResponseLimit)
		}
	}

	if !h.cfg.ValidateQueries || skipColumnCheck {
		return nil
	}
	tableName := req.QuerySource.TableName
	schema, ok := h.deps.Schemas.SchemaIfPresent(tableName)
	if !ok {
		h.deps.Schemas.RefreshAsync(tableName)
		return nil
	}
	columns, err := ExtractColumns(req)
	if err != nil {
		return err
	}
	// Virtual columns are not part of the physical schema.
	for _, col := range columns.ToSlice() {
		if strings.HasPrefix(col, "$") {
			columns.Remove(col)
		}
	}
	unknown := columns.Difference(schema.ColumnSet())
	if unknown.Cardinality() > 0 {
		addTableCount(ctx, unknownColumnCounter, ExtractRawTableName(tableName))
		return fmt.Errorf("found non-existent columns in the query: %v", unknown.ToSlice())
	}
	return nil
}

// specializeHybrid deep-copies the request for one side of a hybrid
// fan-out, rewrites the table name to its physical form and stitches the
// time-boundary predicate in.
func (h *RequestHandler) specializeHybrid(ctx context.Context, req *BrokerRequest, rawTableName string, offline bool) (*BrokerRequest, error) {
	cp, err := req.Clone()
	if err != nil {
		return nil, err
	}
	if offline {
		cp.QuerySource.TableName = OfflineTableName(rawTableName)
	} else {
		cp.QuerySource.TableName = RealtimeTableName(rawTableName)
	}
	tb, _ := h.deps.TimeBoundary.TimeBoundary(OfflineTableName(rawTableName))
	AttachTimeBoundary(ctx, cp, tb, offline)
	return cp, nil
}

// timeColumnName returns the offline table's time column, or "" when the
// time boundary service has no information.
func (h *RequestHandler) timeColumnName(rawTableName string) string {
	tb, ok := h.deps.TimeBoundary.TimeBoundary(OfflineTableName(rawTableName))
	if !ok {
		return ""
	}
	return tb.TimeColumn
}

func (h *RequestHandler) truncateQuery(query string) string {
	if h.cfg.QueryLogLength > 0 && len(query) > h.cfg.QueryLogLength {
		return query[:h.cfg.QueryLogLength]
	}
	return query
}
