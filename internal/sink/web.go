// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/record"
)

const wsWriteTimeout = 5 * time.Second

// Web serves the latest record over HTTP and streams every record to
// websocket clients.
//
//	GET /api/record  latest record as JSON, 503 before the first cycle
//	GET /ws          one JSON text message per record
type Web struct {
	mem      *Memory
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *zap.Logger
}

// NewWeb returns a web sink that will listen on addr once Serve is called.
func NewWeb(addr string, logger *zap.Logger) *Web {
	w := &Web{
		mem: NewMemory(1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local network dashboard
			},
		},
		logger: logger,
	}
	w.server = &http.Server{Addr: addr, Handler: w.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return w
}

func (w *Web) Emit(rec record.SensorRecord) error {
	return w.mem.Emit(rec)
}

// Handler exposes the routes, mainly for tests.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/record", w.handleLatest)
	mux.HandleFunc("/ws", w.handleStream)
	return mux
}

// Serve blocks until the server is closed.
func (w *Web) Serve() error {
	w.logger.Info("web server listening", zap.String("addr", w.server.Addr))
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the server down and drops websocket clients.
func (w *Web) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

func (w *Web) handleLatest(rw http.ResponseWriter, r *http.Request) {
	rec, ok := w.mem.Latest()
	if !ok {
		http.Error(rw, "no data yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(rec); err != nil {
		w.logger.Warn("web: json encode error", zap.Error(err))
	}
}

func (w *Web) handleStream(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("web: websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	records, unsubscribe := w.mem.Subscribe(8)
	defer unsubscribe()

	// Reader detects the client going away; incoming messages are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					w.logger.Debug("web: websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(rec); err != nil {
				w.logger.Debug("web: websocket write error", zap.Error(err))
				return
			}
		}
	}
}
