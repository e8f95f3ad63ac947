// Copyright (C) 2025 CardinalHQ, Inc
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

// Package debugging serves the runtime profiler for long ingestion runs.
// It is off unless PPROF_PORT names a port.
package debugging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"
)

// RunPprof serves /debug/pprof/ until ctx is done. It returns at once
// when profiling is disabled.
func RunPprof(ctx context.Context) {
	port := pprofPort(os.Getenv("PPROF_PORT"))
	if port == 0 {
		return
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           profileMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	context.AfterFunc(ctx, func() {
		_ = srv.Shutdown(context.Background())
	})

	slog.Info("Profiler listening", slog.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("Profiler stopped", slog.Any("error", err))
	}
}

// profileMux registers the pprof handlers on a private mux so nothing
// else in the process can expose them by accident.
func profileMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func pprofPort(v string) int {
	switch v {
	case "", "0", "false", "off":
		return 0
	}
	port, err := strconv.Atoi(v)
	if err != nil || port < 1 || port > 65535 {
		slog.Warn("Ignoring invalid PPROF_PORT", slog.String("value", v))
		return 0
	}
	return port
}
