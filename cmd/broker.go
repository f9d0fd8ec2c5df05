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

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/cardinalhq/querybroker/broker"
	"github.com/cardinalhq/querybroker/config"
	"github.com/cardinalhq/querybroker/executor"
	"github.com/cardinalhq/querybroker/quota"
	"github.com/cardinalhq/querybroker/routing"
	"github.com/cardinalhq/querybroker/schemacache"
)

func init() {
	rootCmd.AddCommand(brokerCmd)
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the query broker",
	RunE: func(_ *cobra.Command, _ []string) error {
		servicename := "querybroker"
		doneCtx, doneFx, err := setupTelemetry(servicename)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer func() {
			if err := doneFx(); err != nil {
				slog.Error("Error shutting down telemetry", slog.Any("error", err))
			}
		}()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		return runBroker(doneCtx, &cfg.Broker)
	},
}

func runBroker(doneCtx context.Context, cfg *config.BrokerConfig) error {
	// The routing view starts empty; the cluster-event listener owns
	// keeping it current.
	view := routing.NewView()

	schemas := schemacache.New(nil, cfg.SchemaCacheTTL)
	defer schemas.Close()

	sink := broker.NewSlogStatsSink(slog.Default(), 1024)
	defer sink.Close()

	handler := broker.NewRequestHandler(broker.Config{
		BrokerID:           cfg.ID,
		Timeout:            cfg.Timeout,
		QueryResponseLimit: cfg.QueryResponseLimit,
		QueryLogLength:     cfg.QueryLogLength,
		ValidateQueries:    cfg.ValidateQueries,
	}, broker.Dependencies{
		Compiler:     broker.CompilerFunc(compileJSONRequest),
		Access:       broker.AccessControlFunc(allowAll),
		Routing:      view,
		TimeBoundary: view,
		Quota:        quota.NewManager(rate.Limit(cfg.DefaultTableQPS), cfg.QuotaBurst),
		Schemas:      schemas,
		Executor:     executor.NewHTTPExecutor(nil),
		Stats:        sink,
	})

	mux := http.NewServeMux()
	mux.Handle("/query", broker.NewHTTPHandler(handler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("query broker listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-doneCtx.Done():
		slog.Info("shutting down query broker")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// compileJSONRequest accepts a structured query document. The PQL text
// compiler is a separate service; brokers accept its compiled output.
func compileJSONRequest(query string) (*broker.BrokerRequest, error) {
	var req broker.BrokerRequest
	if err := json.Unmarshal([]byte(query), &req); err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if req.QuerySource.TableName == "" {
		return nil, errors.New("parse query: missing table name")
	}
	return &req, nil
}

func allowAll(_ context.Context, _ *broker.RequesterIdentity, _ *broker.BrokerRequest) bool {
	return true
}
