// Package server hosts the websocket session endpoint and the admin mux. One
// orchestrator session exists per connection; the server wires each to the
// shared provider set and tears it down when the transport drops.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicewire/voicewire/internal/agent"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/orchestrator"
	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/internal/router"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/tts"
)

const shutdownTimeout = 5 * time.Second

// Providers bundles the shared provider set every session uses.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider
}

// Server accepts edge connections and runs one session per connection.
type Server struct {
	cfg       config.Config
	providers Providers
	router    *router.Router
	agents    *agent.Registry
	log       *slog.Logger
	metrics   *observe.Metrics
	welcome   *welcomeCache

	mu       sync.Mutex
	sessions map[string]*wsSession
}

// New assembles a Server from validated config and constructed providers.
func New(cfg config.Config, providers Providers, rt *router.Router, agents *agent.Registry, log *slog.Logger, metrics *observe.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	var welcome *welcomeCache
	if cfg.Pipeline.WelcomeText != "" {
		welcome = newWelcomeCache(providers.TTS, cfg.Pipeline.WelcomeText, tts.SynthesisOpts{
			Voice:      cfg.Providers.TTS.Voice,
			SampleRate: cfg.Pipeline.SampleRate,
		})
	}

	return &Server{
		cfg:       cfg,
		providers: providers,
		router:    rt,
		agents:    agents,
		log:       log,
		metrics:   metrics,
		welcome:   welcome,
		sessions:  make(map[string]*wsSession),
	}
}

// Run serves until ctx is cancelled. It starts the session listener and,
// when configured, the admin listener with /healthz and /metrics.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	sessionSrv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}
	g.Go(func() error {
		s.log.Info("session listener starting", "addr", s.cfg.Server.ListenAddr)
		var err error
		if tlsCfg := s.cfg.Server.TLS; tlsCfg != nil {
			err = sessionSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = sessionSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: session listener: %w", err)
	})

	var adminSrv *http.Server
	if s.cfg.Server.AdminAddr != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("/healthz", s.handleHealthz)
		adminMux.Handle("/metrics", promhttp.Handler())
		adminSrv = &http.Server{Addr: s.cfg.Server.AdminAddr, Handler: adminMux}
		g.Go(func() error {
			s.log.Info("admin listener starting", "addr", s.cfg.Server.AdminAddr)
			if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: admin listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if adminSrv != nil {
			adminSrv.Shutdown(shutCtx)
		}
		return sessionSrv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// handleWS upgrades the connection and runs its session to completion.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// PCM frames are already dense; compression buys little and costs CPU.
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	id := uuid.NewString()
	ws := newWSSession(id, conn, s.log)
	ws.sess = orchestrator.NewSession(orchestrator.SessionConfig{
		ID:       id,
		Sink:     ws,
		STT:      s.providers.STT,
		TTS:      s.providers.TTS,
		LLM:      s.providers.LLM,
		Router:   s.router,
		Agents:   s.agents,
		Pipeline: s.cfg.Pipeline,
		Voice:    s.cfg.Providers.TTS.Voice,
		Logger:   s.log,
		Metrics:  s.metrics,
	})

	s.register(ws)
	defer s.unregister(ws)

	ctx := r.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	s.log.Info("session connected", "session_id", id)

	if err := ws.SendControl(ctx, protocol.Connected(id, "connected to voicewire")); err != nil {
		s.log.Warn("greeting failed", "session_id", id, "error", err)
	}
	if err := s.welcome.stream(ctx, ws); err != nil {
		s.log.Warn("welcome audio failed", "session_id", id, "error", err)
	}

	if err := ws.run(ctx); err != nil {
		s.log.Warn("session ended with error", "session_id", id, "error", err)
	} else {
		s.log.Info("session disconnected", "session_id", id)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) register(ws *wsSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ws.id] = ws
}

func (s *Server) unregister(ws *wsSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ws.id)
}

// SessionCount reports how many sessions are currently connected.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
