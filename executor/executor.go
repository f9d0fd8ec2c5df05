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

// Package executor scatters routed sub-requests to data servers over HTTP
// and gathers their partial responses into one merged broker response.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/querybroker/broker"
	"github.com/cardinalhq/querybroker/internal/logctx"
)

// serverRequest is the payload posted to one data server: the sub-request
// plus the segments that server must scan.
type serverRequest struct {
	RequestID int64                 `json:"requestId"`
	Request   *broker.BrokerRequest `json:"request"`
	Segments  []string              `json:"segments"`
	TimeoutMs int64                 `json:"timeoutMs"`
}

// serverResponse is one server's partial answer.
type serverResponse struct {
	Rows                        json.RawMessage              `json:"rows,omitempty"`
	Exceptions                  []broker.ProcessingException `json:"exceptions,omitempty"`
	NumDocsScanned              int64                        `json:"numDocsScanned"`
	TotalDocs                   int64                        `json:"totalDocs"`
	NumEntriesScannedInFilter   int64                        `json:"numEntriesScannedInFilter"`
	NumEntriesScannedPostFilter int64                        `json:"numEntriesScannedPostFilter"`
	NumSegmentsQueried          int                          `json:"numSegmentsQueried"`
	NumSegmentsProcessed        int                          `json:"numSegmentsProcessed"`
	NumSegmentsMatched          int                          `json:"numSegmentsMatched"`
	NumGroupsLimitReached       bool                         `json:"numGroupsLimitReached"`
}

// HTTPExecutor fans sub-requests out to each routed server concurrently
// and merges the partial responses. Per-server failures become coded
// exceptions on the merged response rather than failing the request.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

// Execute runs both legs of the request concurrently within the remaining
// timeout budget carried by ctx.
func (e *HTTPExecutor) Execute(ctx context.Context, params *broker.ExecuteParams) (*broker.Response, error) {
	merged := &broker.Response{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	scatterLeg := func(req *broker.BrokerRequest, rt broker.RoutingTable) {
		for server, segments := range rt {
			g.Go(func() error {
				partial, err := e.queryServer(gctx, server, &serverRequest{
					RequestID: params.RequestID,
					Request:   req,
					Segments:  segments,
					TimeoutMs: params.Timeout.Milliseconds(),
				})
				mu.Lock()
				defer mu.Unlock()
				merged.NumServersQueried++
				if err != nil {
					logctx.FromContext(ctx).Warn("server query failed",
						slog.String("server", server),
						slog.Any("error", err))
					merged.Exceptions = append(merged.Exceptions, broker.ProcessingException{
						ErrorCode: broker.QueryExecutionErrorCode,
						Message:   fmt.Sprintf("server %s: %v", server, err),
					})
					return nil
				}
				merged.NumServersResponded++
				mergePartial(merged, partial)
				return nil
			})
		}
	}
	if params.Offline != nil {
		scatterLeg(params.Offline, params.OfflineRouting)
	}
	if params.Realtime != nil {
		scatterLeg(params.Realtime, params.RealtimeRouting)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (e *HTTPExecutor) queryServer(ctx context.Context, server string, sr *serverRequest) (*serverResponse, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal server request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+server+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}
	var partial serverResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&partial); err != nil {
		return nil, fmt.Errorf("decode server response: %w", err)
	}
	return &partial, nil
}

// mergePartial folds one server's counts and exceptions into the merged
// response. Row reduction beyond concatenation is the reduce service's
// job; the broker only accounts.
func mergePartial(merged *broker.Response, partial *serverResponse) {
	merged.NumDocsScanned += partial.NumDocsScanned
	merged.TotalDocs += partial.TotalDocs
	merged.NumEntriesScannedInFilter += partial.NumEntriesScannedInFilter
	merged.NumEntriesScannedPostFilter += partial.NumEntriesScannedPostFilter
	merged.NumSegmentsQueried += partial.NumSegmentsQueried
	merged.NumSegmentsProcessed += partial.NumSegmentsProcessed
	merged.NumSegmentsMatched += partial.NumSegmentsMatched
	merged.NumGroupsLimitReached = merged.NumGroupsLimitReached || partial.NumGroupsLimitReached
	merged.Exceptions = append(merged.Exceptions, partial.Exceptions...)
	if len(partial.Rows) > 0 && merged.Results == nil {
		merged.Results = partial.Rows
	}
}
