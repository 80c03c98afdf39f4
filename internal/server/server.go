// Package server exposes runs over WebSocket: a client sends a query, the
// server streams the run's responses as JSON frames, and the terminal frame
// closes the exchange. The connection stays open for further queries.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/internal/logging"
	"github.com/arbor-ai/arbor/pkg/schema"
)

// RunRequest is one client query frame.
type RunRequest struct {
	Query string `json:"query"`
}

// RunFrame is one streamed response frame. Seq starts at 1 and increases by
// one per frame within a run. Terminal marks the last frame of a run.
type RunFrame struct {
	RunID    string           `json:"run_id"`
	Seq      int              `json:"seq"`
	Response *schema.Response `json:"response"`
	Terminal bool             `json:"terminal"`
	Error    *schema.ArborError `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

// Server serves the WebSocket run endpoint.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates a Server around the workflow engine.
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	return &Server{engine: e, logger: logger}
}

// Handler returns the HTTP handler: /ws for runs, /healthz for liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		var req RunRequest
		if err := ws.ReadJSON(&req); err != nil {
			s.logger.Info("websocket client disconnected", "error", err.Error())
			return
		}
		if req.Query == "" {
			if err := ws.WriteJSON(map[string]string{"error": "query is empty"}); err != nil {
				return
			}
			continue
		}
		if !s.streamRun(ctx, ws, req.Query) {
			return
		}
	}
}

// streamRun executes one query and writes every response frame. Reports
// whether the connection is still usable.
func (s *Server) streamRun(ctx context.Context, ws *websocket.Conn, query string) bool {
	run, err := s.engine.Run(ctx, query)
	if err != nil {
		return websocketError(ws, err) == nil
	}
	defer run.Stop()
	ctx = logging.WithRunID(ctx, run.ID())

	seq := 0
	for resp := range run.Responses() {
		seq++
		frame := RunFrame{
			RunID:    run.ID(),
			Seq:      seq,
			Response: resp,
			Terminal: resp.IsTerminal(),
		}
		if err := ws.WriteJSON(frame); err != nil {
			s.logger.Warn("websocket write failed, stopping run", "error", err)
			run.Stop()
			return false
		}
	}
	<-run.Done()

	// A cancelled run ends without a terminal frame; tell the client why.
	if run.Status() == schema.RunStatusCancelled {
		return websocketError(ws, run.Err()) == nil
	}
	s.logger.InfoContext(ctx, "run streamed", "frames", seq, "status", string(run.Status()))
	return true
}

func websocketError(ws *websocket.Conn, err error) error {
	var ae *schema.ArborError
	if e, ok := err.(*schema.ArborError); ok {
		ae = e
	} else if err != nil {
		ae = schema.NewError(schema.ErrCodeExecution, err.Error())
	} else {
		ae = schema.NewError(schema.ErrCodeExecution, "unknown error")
	}
	return ws.WriteJSON(RunFrame{Terminal: true, Error: ae})
}
