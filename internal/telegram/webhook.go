package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ireland-samantha/relaybot/internal/config"
)

// SecretHeader carries the webhook secret token.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// WebhookServer receives updates over HTTPS.
type WebhookServer struct {
	cfg        config.WebhookConfig
	dispatcher *Dispatcher
	server     *http.Server
	logger     *slog.Logger
}

// NewWebhookServer creates the webhook HTTP server. metricsHandler may be nil.
func NewWebhookServer(cfg config.WebhookConfig, dispatcher *Dispatcher, metricsHandler http.Handler, logger *slog.Logger) *WebhookServer {
	s := &WebhookServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post(cfg.Path, s.handleUpdate)
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router.
func (s *WebhookServer) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *WebhookServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		tls := s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != ""
		s.logger.Info("starting webhook server", "addr", s.server.Addr, "path", s.cfg.Path, "tls", tls)

		var err error
		if tls {
			err = s.server.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = s.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down webhook server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *WebhookServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SecretToken != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.SecretToken)) != 1 {
			s.logger.Warn("rejected webhook request with bad secret token", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		s.logger.Warn("failed to decode update", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.logger.Debug("webhook received", "update_id", u.UpdateID, "bytes", len(body))

	if err := s.dispatcher.Dispatch(r.Context(), u); err != nil {
		s.logger.Error("failed to dispatch update", "update_id", u.UpdateID, "error", err)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *WebhookServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running"))
}
