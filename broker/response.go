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

import "encoding/json"

// Numeric error codes surfaced to clients. The enumeration is closed and
// versioned; values must not change across releases.
const (
	QueryParsingErrorCode          = 150
	AccessDeniedErrorCode          = 180
	QueryExecutionErrorCode        = 200
	BrokerTimeoutErrorCode         = 400
	BrokerResourceMissingErrorCode = 410
	NoServerFoundErrorCode         = 427
	TooManyRequestsErrorCode       = 429
	InternalErrorCode              = 450
	QueryValidationErrorCode       = 700
)

// ProcessingException is one structured error attached to a response.
type ProcessingException struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

// Response is the broker's answer to one query. Result rows and aggregates
// are produced by the scatter-gather executor and are opaque to the
// pipeline; everything else is bookkeeping the pipeline owns.
type Response struct {
	Results    json.RawMessage       `json:"results,omitempty"`
	Exceptions []ProcessingException `json:"exceptions,omitempty"`

	NumServersQueried   int `json:"numServersQueried"`
	NumServersResponded int `json:"numServersResponded"`

	NumDocsScanned              int64 `json:"numDocsScanned"`
	TotalDocs                   int64 `json:"totalDocs"`
	NumEntriesScannedInFilter   int64 `json:"numEntriesScannedInFilter"`
	NumEntriesScannedPostFilter int64 `json:"numEntriesScannedPostFilter"`
	NumSegmentsQueried          int   `json:"numSegmentsQueried"`
	NumSegmentsProcessed        int   `json:"numSegmentsProcessed"`
	NumSegmentsMatched          int   `json:"numSegmentsMatched"`

	NumGroupsLimitReached bool `json:"numGroupsLimitReached"`

	TimeUsedMs   int64           `json:"timeUsedMs"`
	PhaseTimesMs map[Phase]int64 `json:"phaseTimesMs,omitempty"`
}

// ErrorResponse builds a response carrying a single coded exception.
func ErrorResponse(code int, message string) *Response {
	return &Response{
		Exceptions: []ProcessingException{{ErrorCode: code, Message: message}},
	}
}

// NoTableResult is the well-known response for a table with no live
// routing entry for either physical copy. It is distinguishable from a
// successful empty result by its exception code.
func NoTableResult() *Response {
	return ErrorResponse(BrokerResourceMissingErrorCode, "no table matches the request")
}

// EmptyResult is the well-known response for a resolved table that no
// server currently serves. It carries no exception; callers and metrics
// tell it apart from a true zero-row answer by the no-server meter and the
// stats error code.
func EmptyResult() *Response {
	return &Response{}
}
