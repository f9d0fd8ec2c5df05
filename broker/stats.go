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
	"log/slog"
	"time"
)

// Phase names one stage of the request pipeline.
type Phase string

const (
	PhaseCompilation   Phase = "compilation"
	PhaseAuthorization Phase = "authorization"
	PhaseTableResolve  Phase = "tableResolve"
	PhaseQuota         Phase = "quota"
	PhaseValidation    Phase = "validation"
	PhaseRouting       Phase = "routing"
	PhaseExecution     Phase = "execution"
)

// FanoutType says which physical copies a request was split across.
type FanoutType string

const (
	FanoutOffline  FanoutType = "OFFLINE"
	FanoutRealtime FanoutType = "REALTIME"
	FanoutHybrid   FanoutType = "HYBRID"
)

// RequestStats accumulates per-request bookkeeping. One record is created
// at request entry, written to throughout the pipeline by the owning
// request only, and handed to the stats sink exactly once at the end.
type RequestStats struct {
	BrokerID    string
	RequestID   int64
	ArrivalTime time.Time
	Query       string
	TableName   string
	Fanout      FanoutType

	PhaseDurations map[Phase]time.Duration
	PhaseReached   Phase
	ErrorCode      int
	TotalTime      time.Duration

	NumDocsScanned      int64
	NumServersQueried   int
	NumServersResponded int
}

// NewRequestStats starts a record for one request.
func NewRequestStats(brokerID string, requestID int64, query string) *RequestStats {
	return &RequestStats{
		BrokerID:       brokerID,
		RequestID:      requestID,
		ArrivalTime:    time.Now(),
		Query:          query,
		PhaseDurations: map[Phase]time.Duration{},
	}
}

// RecordPhase stamps the duration of one completed phase and marks it as
// the furthest phase reached.
func (s *RequestStats) RecordPhase(phase Phase, d time.Duration) {
	s.PhaseDurations[phase] = d
	s.PhaseReached = phase
}

// SetError records the terminal error code for the request.
func (s *RequestStats) SetError(code int) {
	s.ErrorCode = code
}

// PhaseTimesMs renders the phase durations in milliseconds for the
// response object.
func (s *RequestStats) PhaseTimesMs() map[Phase]int64 {
	out := make(map[Phase]int64, len(s.PhaseDurations))
	for phase, d := range s.PhaseDurations {
		out[phase] = d.Milliseconds()
	}
	return out
}

// StatsSink receives one finalized RequestStats per request. Implementations
// must not block the pipeline meaningfully.
type StatsSink interface {
	Record(stats *RequestStats)
}

// SlogStatsSink writes finalized request statistics as structured log
// lines from a background goroutine. The buffer is bounded; when it is
// full the record is dropped rather than blocking the pipeline.
type SlogStatsSink struct {
	ch     chan *RequestStats
	logger *slog.Logger
	done   chan struct{}
}

// NewSlogStatsSink starts a sink draining into logger. Close releases it.
func NewSlogStatsSink(logger *slog.Logger, buffer int) *SlogStatsSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &SlogStatsSink{
		ch:     make(chan *RequestStats, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *SlogStatsSink) Record(stats *RequestStats) {
	select {
	case s.ch <- stats:
	default:
		// Bounded buffer: dropping a stats record is preferable to
		// stalling a request.
	}
}

func (s *SlogStatsSink) drain() {
	defer close(s.done)
	for stats := range s.ch {
		s.logger.LogAttrs(context.Background(), slog.LevelInfo, "request stats",
			slog.String("brokerId", stats.BrokerID),
			slog.Int64("requestId", stats.RequestID),
			slog.String("table", stats.TableName),
			slog.String("fanout", string(stats.Fanout)),
			slog.String("phaseReached", string(stats.PhaseReached)),
			slog.Int("errorCode", stats.ErrorCode),
			slog.Duration("totalTime", stats.TotalTime),
		)
	}
}

// Close stops the drain goroutine after flushing buffered records.
func (s *SlogStatsSink) Close() {
	close(s.ch)
	<-s.done
}
