// Package gateway exposes current passcodes to the local browser-automation
// agent over a loopback HTTP endpoint, replacing direct env access during
// multi-factor login challenges.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/cjmorris/finfeed/internal/config"
	"github.com/cjmorris/finfeed/internal/totp"
	pkglogger "github.com/cjmorris/finfeed/pkg/logger"
)

// SecretResolver maps a service name to its usable base32 MFA secret.
type SecretResolver func(service string) (string, error)

type Server struct {
	cfg     config.GatewayConfig
	resolve SecretResolver
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
	now     func() time.Time
}

func New(cfg config.GatewayConfig, resolve SecretResolver, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		resolve: resolve,
		logger:  logger,
		audit:   pkglogger.NewAuditLogger(logger),
		now:     time.Now,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow, httprate.WithKeyFuncs(rateKey)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/otp/{service}", s.handleOTP)
	})

	return r
}

// ListenAndServe runs the gateway until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type otpResponse struct {
	Service   string `json:"service"`
	Code      string `json:"code"`
	Window    int64  `json:"window"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	secret, err := s.resolve(service)
	if err != nil {
		s.auditOTP(r, service, false, "unknown_service")
		writeError(w, http.StatusNotFound, "unknown_service", "no MFA secret configured for this service")
		return
	}

	cfg, err := totp.NewConfigFromSecret(secret)
	if err != nil {
		s.logger.Error("stored secret is unusable", slog.String("service", service), slog.Any("error", err))
		s.auditOTP(r, service, false, "bad_secret")
		writeError(w, http.StatusInternalServerError, "bad_secret", "stored secret could not be used")
		return
	}

	now := s.now()
	code, err := totp.Generate(cfg, now)
	if err != nil {
		s.auditOTP(r, service, false, "generate_failed")
		writeError(w, http.StatusInternalServerError, "generate_failed", "passcode generation failed")
		return
	}

	s.auditOTP(r, service, true, "")
	writeJSON(w, http.StatusOK, otpResponse{
		Service:   service,
		Code:      code.Code,
		Window:    code.Window,
		ExpiresIn: int(code.ExpiresIn(now, cfg.Period()).Seconds()),
	})
}

// requireToken enforces the static bearer token. The agent runs untrusted
// page content, so the token is required even on loopback.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			writeError(w, http.StatusServiceUnavailable, "gateway_disabled", "GATEWAY_TOKEN is not configured")
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Token)) != 1 {
			s.auditOTP(r, "", false, "unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateKey buckets requests by presented bearer token. All local callers share
// one IP, so keying by IP would collapse every agent into a single bucket;
// unauthenticated requests still fall back to the IP key.
func rateKey(r *http.Request) (string, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token, nil
	}
	return httprate.KeyByIP(r)
}

func (s *Server) auditOTP(r *http.Request, service string, success bool, denyReason string) {
	eventType := "otp_issued"
	if !success {
		eventType = "otp_denied"
	}
	s.audit.LogOTPAccess(pkglogger.AuditEvent{
		EventType:  eventType,
		Service:    service,
		RemoteAddr: r.RemoteAddr,
		RequestID:  middleware.GetReqID(r.Context()),
		Success:    success,
		DenyReason: denyReason,
	})
}
