// Package server is the streaming ingress: a WebSocket endpoint accepting
// binary PCM frames and returning JSON pipeline snapshots, plus health and
// Prometheus metrics endpoints.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/lorikeet/internal/config"
	"github.com/MrWong99/lorikeet/internal/health"
	"github.com/MrWong99/lorikeet/internal/observe"
	"github.com/MrWong99/lorikeet/internal/session"
	"github.com/MrWong99/lorikeet/pkg/audio"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server hosts the streaming gateway and its operational endpoints.
type Server struct {
	cfg     config.ServerConfig
	rate    int
	manager *session.Manager
	httpSrv *http.Server
}

// New wires the HTTP mux: /v1/stream for WebSocket streaming, /healthz and
// /readyz probes, and /metrics for Prometheus scrapes. Everything runs behind
// the tracing and metrics middleware.
func New(cfg *config.Config, manager *session.Manager, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Server{
		cfg:     cfg.Server,
		rate:    cfg.Audio.SampleRate,
		manager: manager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Check{Name: "engines", Run: manager.Ready}).Register(mux)

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.cfg.TLS != nil {
			slog.Info("server listening", "addr", s.cfg.ListenAddr, "tls", true)
			err = s.httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			slog.Info("server listening", "addr", s.cfg.ListenAddr, "tls", false)
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Handler exposes the full middleware-wrapped mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// streamCommand is a client text frame on the stream socket.
type streamCommand struct {
	Type string `json:"type"`
}

// handleStream upgrades to WebSocket and bridges the socket to one pipeline
// session. Binary frames carry little-endian int16 PCM; text frames carry
// JSON commands (currently only {"type":"close"}). Every published snapshot
// goes back as a JSON text frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	clientRate, channels, err := streamParams(r, s.rate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		id = newSessionID()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser origins vary per deployment; auth sits in front of us.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	ctx := r.Context()
	log := observe.StreamLogger(ctx, id)

	sess, err := s.manager.Open(ctx, id)
	if err != nil {
		log.Warn("session open rejected", "err", err)
		conn.Close(websocket.StatusPolicyViolation, "session open failed")
		return
	}
	defer func() {
		if err := s.manager.CloseSession(context.WithoutCancel(ctx), id); err != nil {
			log.Debug("session teardown", "err", err)
		}
	}()

	// Snapshot writer: one goroutine owns all writes to the socket.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for snap := range sess.Updates() {
			buf, err := json.Marshal(snap)
			if err != nil {
				log.Error("snapshot marshal failed", "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, buf); err != nil {
				return
			}
		}
	}()

	log.Info("stream opened", "client_rate", clientRate, "channels", channels)
	s.readLoop(ctx, log, conn, sess, clientRate, channels)

	// Closing the session ends Updates, which ends the writer.
	_ = sess.Close()
	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "stream complete")
	log.Info("stream closed")
}

// readLoop consumes socket frames until the client closes, errors, or sends a
// close command.
func (s *Server) readLoop(ctx context.Context, log *slog.Logger, conn *websocket.Conn, sess *session.Session, clientRate, channels int) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return
			}
			log.Warn("stream read failed", "err", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			samples, err := audio.Float32FromPCM16(data)
			if err != nil {
				log.Warn("dropping malformed audio frame", "err", err)
				continue
			}
			if channels == 2 {
				samples = audio.StereoToMono(samples)
			}
			samples = audio.Resample(samples, clientRate, s.rate)
			if err := sess.PushAudio(samples); err != nil {
				log.Warn("audio push failed", "err", err)
				return
			}

		case websocket.MessageText:
			var cmd streamCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Debug("ignoring malformed command", "err", err)
				continue
			}
			if cmd.Type == "close" {
				return
			}
			log.Debug("ignoring unknown command", "type", cmd.Type)
		}
	}
}

// streamParams parses the optional sample_rate and channels query parameters,
// defaulting to the pipeline rate and mono.
func streamParams(r *http.Request, defaultRate int) (rate, channels int, err error) {
	rate = defaultRate
	channels = 1

	if v := r.URL.Query().Get("sample_rate"); v != "" {
		rate, err = strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, 0, fmt.Errorf("server: invalid sample_rate %q", v)
		}
	}
	if v := r.URL.Query().Get("channels"); v != "" {
		channels, err = strconv.Atoi(v)
		if err != nil || (channels != 1 && channels != 2) {
			return 0, 0, fmt.Errorf("server: invalid channels %q, must be 1 or 2", v)
		}
	}
	return rate, channels, nil
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(b[:])
}
