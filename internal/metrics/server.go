package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "postflow/pkg/logx"
)

// Server exposes the metrics registry over HTTP.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(m *Metrics, addr string, log logx.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:9100"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server started", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server stopped", logx.Any("err", err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
