// Package webhook serves the HTTP API: inbound chat messages, broadcast
// triggers and a health endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"joanabot/internal/broadcast"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

const maxBodyBytes = 64 << 10

const (
	msgInvalidBody   = "❌ Erro: requisição inválida."
	msgNoRecipients  = "⚠️ Nenhum usuário com userId válido."
	msgBroadcastFail = "❌ Erro ao agendar disparo."
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Broadcaster starts broadcast jobs and reports their status.
type Broadcaster interface {
	Dispatch(ctx context.Context, recipients []string, message string, interval time.Duration) (string, error)
	GenerateAndDispatch(ctx context.Context, recipients []string, interval time.Duration) (string, error)
	Status(id string) (broadcast.JobStatus, bool)
}

// SenderLister returns every known sender.
type SenderLister interface {
	ListSenders(ctx context.Context) ([]string, error)
}

type Server struct {
	cfg     Config
	handler transport.Handler
	bc      Broadcaster
	senders SenderLister
	health  func() any
	log     logx.Logger

	mux *http.ServeMux
}

// New builds the API. bc and senders may be nil, which disables the broadcast
// routes. health, when set, is rendered by GET /healthz.
func New(cfg Config, h transport.Handler, bc Broadcaster, senders SenderLister, health func() any, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, handler: h, bc: bc, senders: senders, health: health, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if bc != nil && senders != nil {
		s.mux.HandleFunc("POST /api/broadcast", s.handleBroadcast)
		s.mux.HandleFunc("GET /api/broadcast/{id}", s.handleBroadcastStatus)
	}
	return s
}

// Mount adds an extra handler, e.g. the websocket endpoint.
func (s *Server) Mount(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

func (s *Server) Handler() http.Handler { return s.mux }

// Run listens on cfg.Addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var in transport.Inbound
	if err := decode(w, r, &in); err != nil {
		s.log.Warn("webhook body rejected", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, transport.Reply{Kind: "bad_request", Reply: msgInvalidBody, Reason: "invalid_body"})
		return
	}
	s.log.Debug("webhook received", logx.String("from", in.From), logx.Int("len", len(in.Text)))

	out := s.handler.Handle(r.Context(), in.From, in.Text)
	status := transport.HTTPStatus(out)
	reply, ok := transport.Render(out)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, status, reply)
}

type broadcastRequest struct {
	Message  string `json:"message,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type broadcastAccepted struct {
	JobID      string `json:"job_id,omitempty"`
	Recipients int    `json:"recipients"`
	Message    string `json:"message,omitempty"`
}

// handleBroadcast sends to every stored sender. Without a message in the
// body, an invitation is generated first.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, transport.Reply{Kind: "bad_request", Reply: msgInvalidBody, Reason: "invalid_body"})
		return
	}
	var interval time.Duration
	if v := strings.TrimSpace(req.Interval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, transport.Reply{Kind: "bad_request", Reply: msgInvalidBody, Reason: "invalid_interval"})
			return
		}
		interval = d
	}

	recipients, err := s.senders.ListSenders(r.Context())
	if err != nil {
		s.log.Error("list senders failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, transport.Reply{Kind: "failed", Reply: msgBroadcastFail})
		return
	}
	if len(recipients) == 0 {
		writeJSON(w, http.StatusOK, broadcastAccepted{Message: msgNoRecipients})
		return
	}

	// The job outlives the request.
	ctx := context.WithoutCancel(r.Context())
	var id string
	if strings.TrimSpace(req.Message) != "" {
		id, err = s.bc.Dispatch(ctx, recipients, req.Message, interval)
	} else {
		id, err = s.bc.GenerateAndDispatch(ctx, recipients, interval)
	}
	switch {
	case errors.Is(err, broadcast.ErrNoRecipients):
		writeJSON(w, http.StatusOK, broadcastAccepted{Message: msgNoRecipients})
		return
	case err != nil:
		s.log.Error("broadcast dispatch failed", logx.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, transport.Reply{Kind: "failed", Reply: msgBroadcastFail})
		return
	}
	s.log.Info("broadcast scheduled", logx.String("job", id), logx.Int("recipients", len(recipients)))
	writeJSON(w, http.StatusAccepted, broadcastAccepted{JobID: id, Recipients: len(recipients)})
}

func (s *Server) handleBroadcastStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.bc.Status(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.health())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
