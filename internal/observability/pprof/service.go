package pprof

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"time"

	logx "postflow/pkg/logx"
)

// Config controls the optional pprof HTTP server.
//
// Bind to localhost unless you know what you are doing; the handlers leak
// heap contents and goroutine stacks.
type Config struct {
	Enabled bool
	Addr    string
	Prefix  string

	MutexProfileFraction int
	BlockProfileRate     int
}

// Service serves the net/http/pprof handlers on their own listener so they
// never share a port with the metrics endpoint.
type Service struct {
	cfg Config
	log logx.Logger
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start() {
	if !s.cfg.Enabled {
		return
	}
	if s.cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(s.cfg.MutexProfileFraction)
	}
	if s.cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(s.cfg.BlockProfileRate)
	}

	prefix := normalizePrefix(s.cfg.Prefix)
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/", hpprof.Index)
	mux.HandleFunc(prefix+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(prefix+"/profile", hpprof.Profile)
	mux.HandleFunc(prefix+"/symbol", hpprof.Symbol)
	mux.HandleFunc(prefix+"/trace", hpprof.Trace)

	s.srv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		s.log.Info("pprof server started", logx.String("addr", s.cfg.Addr), logx.String("prefix", prefix))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("pprof server stopped", logx.Any("err", err))
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
	s.srv = nil
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "/debug/pprof"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
