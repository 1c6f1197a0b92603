package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"agentgate/internal/domain"
	"agentgate/internal/metrics"
)

const (
	apiMaxBodySize      = 1 << 20 // 1MB
	defaultWriteTimeout = 30 * time.Second
	// writeSlack covers policy evaluation, audit hand-off and encoding on
	// top of an action's timeout and grace.
	writeSlack = 10 * time.Second
)

var validate = validator.New()

// Gateway is the request-resolution surface the channels drive.
type Gateway interface {
	Handle(ctx context.Context, req domain.ActionRequest) domain.Response
	Evaluate(req domain.ActionRequest) domain.Decision
	Actions() []domain.ActionDefinition
	Mode() domain.Mode
}

// Reloader rebuilds the policy snapshot.
type Reloader interface {
	Reload() error
}

type APIConfig struct {
	Addr          string
	APIKey        string
	WebhookSecret string // when set, a valid X-Signature-256 also authenticates
	Limiter       *RateLimiter
	MetricsPath   string // empty disables /metrics
	Reloader      Reloader
	Logger        *slog.Logger
	// Grace is the dispatcher's wait after an action deadline. Action
	// responses get a write deadline of timeout + Grace + a fixed slack.
	Grace time.Duration
	// WriteTimeout applies to every other route. Default 30s.
	WriteTimeout time.Duration
}

// API serves the gateway over JSON/HTTP.
type API struct {
	addr          string
	apiKey        string
	webhookSecret string
	limiter       *RateLimiter
	metricsPath   string
	reloader      Reloader
	grace         time.Duration
	writeTimeout  time.Duration
	gw            Gateway
	logger        *slog.Logger
	server        *http.Server
	started       time.Time
}

func NewAPI(gw Gateway, cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &API{
		addr:          cfg.Addr,
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		limiter:       cfg.Limiter,
		metricsPath:   cfg.MetricsPath,
		reloader:      cfg.Reloader,
		grace:         cfg.Grace,
		writeTimeout:  writeTimeout,
		gw:            gw,
		logger:        logger,
		started:       time.Now(),
	}
}

func (a *API) Name() string { return "http" }

// Handler returns the routed handler; exposed for tests and embedding.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/actions", a.auth(a.handleAction))
	mux.HandleFunc("POST /v1/actions/validate", a.auth(a.handleValidate))
	mux.HandleFunc("GET /v1/actions", a.auth(a.handleList))
	mux.HandleFunc("POST /v1/policy/reload", a.auth(a.handleReload))
	mux.HandleFunc("GET /v1/schema", a.handleSchema)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metricsPath != "" {
		mux.HandleFunc("GET "+a.metricsPath, a.auth(metrics.Collector.Handler()))
	}
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (a *API) Start(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.writeTimeout, // extended per request in handleAction
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", a.addr, err)
	}
	a.logger.Info("http API started", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("http API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http API: %w", err)
		}
		return nil
	}
}

type ctxKey int

const bodyKey ctxKey = iota

// auth reads the body (bounded), then checks the bearer key or, when a
// webhook secret is configured, the HMAC signature over the body.
func (a *API) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, apiMaxBodySize+1))
		if err != nil {
			writeError(rw, http.StatusBadRequest, "bad request")
			return
		}
		r.Body.Close()
		if len(body) > apiMaxBodySize {
			writeError(rw, http.StatusRequestEntityTooLarge, "request body exceeds 1MB")
			return
		}

		if !a.authorized(r, body) {
			a.logger.Warn("unauthorized API request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(rw, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(rw, r.WithContext(context.WithValue(r.Context(), bodyKey, body)))
	}
}

func (a *API) authorized(r *http.Request, body []byte) bool {
	if a.apiKey == "" && a.webhookSecret == "" {
		return true
	}
	if a.apiKey != "" {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok &&
			subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) == 1 {
			return true
		}
	}
	if a.webhookSecret != "" {
		if sig := r.Header.Get("X-Signature-256"); sig != "" && verifyHMAC(body, a.webhookSecret, sig) {
			return true
		}
	}
	return false
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func requestBody(r *http.Request) []byte {
	b, _ := r.Context().Value(bodyKey).([]byte)
	return b
}

// decodeRequest parses and validates an action request. The actor falls back
// to the X-Actor-ID header and then the remote host.
func (a *API) decodeRequest(r *http.Request) (domain.ActionRequest, error) {
	var req domain.ActionRequest
	if err := json.Unmarshal(requestBody(r), &req); err != nil {
		return req, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.ActorID == "" {
		req.ActorID = r.Header.Get("X-Actor-ID")
	}
	if req.ActorID == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.ActorID = "http:" + host
		}
	}
	req.Source = "http"
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func (a *API) handleAction(rw http.ResponseWriter, r *http.Request) {
	req, err := a.decodeRequest(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if a.limiter != nil && !a.limiter.Allow(req.Actor()) {
		metrics.RateLimited.Inc()
		a.logger.Warn("rate limited", "actor", req.Actor(), "action", req.ActionName)
		rw.Header().Set("Retry-After", "1")
		writeError(rw, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	a.extendWriteDeadline(rw, req)
	resp := a.gw.Handle(r.Context(), req)
	writeJSON(rw, StatusFor(resp), resp)
}

// extendWriteDeadline lets the response outlive the server-wide write
// timeout when the action's own budget is longer.
func (a *API) extendWriteDeadline(rw http.ResponseWriter, req domain.ActionRequest) {
	budget := a.gw.Evaluate(req).Timeout
	if budget <= 0 {
		return
	}
	need := budget + a.grace + writeSlack
	if need <= a.writeTimeout {
		return
	}
	if err := http.NewResponseController(rw).SetWriteDeadline(time.Now().Add(need)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.logger.Debug("extend write deadline", "action", req.ActionName, "err", err)
	}
}

func (a *API) handleValidate(rw http.ResponseWriter, r *http.Request) {
	req, err := a.decodeRequest(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, a.gw.Evaluate(req))
}

func (a *API) handleList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"mode":    a.gw.Mode(),
		"actions": a.gw.Actions(),
	})
}

func (a *API) handleReload(rw http.ResponseWriter, r *http.Request) {
	if a.reloader == nil {
		writeError(rw, http.StatusNotImplemented, "policy reload not configured")
		return
	}
	if err := a.reloader.Reload(); err != nil {
		writeError(rw, http.StatusUnprocessableEntity, err.Error())
		return
	}
	metrics.PolicyReloads.Inc()
	writeJSON(rw, http.StatusOK, map[string]any{"status": "reloaded", "mode": a.gw.Mode()})
}

func (a *API) handleSchema(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, Schemas())
}

func (a *API) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   a.gw.Mode(),
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

// Schemas returns JSON Schemas for the request, response and decision bodies.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	return map[string]*jsonschema.Schema{
		"request":  reflector.Reflect(&domain.ActionRequest{}),
		"response": reflector.Reflect(&domain.Response{}),
		"decision": reflector.Reflect(&domain.Decision{}),
	}
}

// StatusFor maps a response to its HTTP status. An action that ran and
// reported a domain error is still a 200 with success=false.
func StatusFor(resp domain.Response) int {
	if resp.RequiresConfirmation {
		return http.StatusAccepted
	}
	switch resp.Reason {
	case domain.ReasonPolicy, domain.ReasonPattern, domain.ReasonMode, domain.ReasonSelfProtect:
		return http.StatusForbidden
	case domain.ReasonTimeout:
		return http.StatusGatewayTimeout
	case domain.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
