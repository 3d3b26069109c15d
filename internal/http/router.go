package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/flock/internal/service/account"
	"github.com/splax/flock/internal/service/follow"
	"github.com/splax/flock/internal/token"
	"github.com/splax/flock/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	accounts account.Service
	follows  follow.Service
	tokens   token.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	appURL   string
	dbHealth func(context.Context) error

	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitPassword  = 5
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, accountSvc account.Service, followSvc follow.Service, tokens token.Service, hub *ws.Hub, limiter RateLimiter, appURL string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		accounts: accountSvc,
		follows:  followSvc,
		tokens:   tokens,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		appURL:   appURL,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.observe("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/accounts", r.observe("accounts", r.handleAccounts))
	r.mux.HandleFunc("/accounts/", r.observe("account", r.withRateLimit("account", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleAccount)))
	r.mux.HandleFunc("/accounts/me", r.observe("account_me", r.handlerAuthRate("account_me", rateLimitWrite, rateWindowDefault, r.handleDeleteMe)))
	r.mux.HandleFunc("/accounts/me/follow", r.observe("follow", r.handlerAuthRate("follow", rateLimitWrite, rateWindowDefault, r.handleFollow)))
	r.mux.HandleFunc("/verify", r.observe("verify", r.withRateLimit("verify", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleVerify)))
	r.mux.HandleFunc("/auth/login", r.observe("login", r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/forgot-password", r.observe("forgot_password", r.withRateLimit("forgot_password", rateLimitPassword, rateWindowDefault, rateLimitKeyIP, r.handleForgotPassword)))
	r.mux.HandleFunc("/auth/reset-password", r.observe("reset_password", r.withRateLimit("reset_password", rateLimitPassword, rateWindowDefault, rateLimitKeyIP, r.handleResetPassword)))
	r.mux.HandleFunc("/ws/events", r.handlerAuthRate("ws_events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAccounts serves signup (POST) and search (GET).
func (r *Router) handleAccounts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)(w, req)
	case http.MethodGet:
		r.withRateLimit("search", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleSearch)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if payload.Username == "" || payload.Email == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "username, email and password are required")
		return
	}
	created, err := r.accounts.Signup(req.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"username": created.Username,
		"email":    created.Email,
		"verified": created.Verified,
	})
}

func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	usernames, err := r.accounts.Search(req.Context(), req.URL.Query().Get("search"))
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	results := make([]map[string]string, 0, len(usernames))
	for _, username := range usernames {
		results = append(results, map[string]string{"username": username})
	}
	writeJSON(w, http.StatusOK, results)
}

// handleAccount serves GET /accounts/{username}.
func (r *Router) handleAccount(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	username := strings.TrimPrefix(req.URL.Path, "/accounts/")
	if username == "" || strings.Contains(username, "/") {
		writeError(w, http.StatusNotFound, "no_such_account", "no such account")
		return
	}
	profile, err := r.accounts.Get(req.Context(), username)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (r *Router) handleDeleteMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for delete", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "authorization context missing")
		return
	}
	if err := r.accounts.Delete(req.Context(), info.Username); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "account deleted"})
}

func (r *Router) handleFollow(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if payload.Target == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "target is required")
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for follow", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "authorization context missing")
		return
	}
	if err := r.follows.Follow(req.Context(), info.Username, payload.Target); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "following " + payload.Target})
}

// handleVerify consumes the emailed verification link and redirects to the
// app on success.
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	verifyToken := req.URL.Query().Get("token")
	if verifyToken == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "token is required")
		return
	}
	if _, err := r.accounts.Verify(req.Context(), verifyToken); err != nil {
		r.writeServiceError(w, err)
		return
	}
	http.Redirect(w, req, r.appURL, http.StatusFound)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	access, err := r.accounts.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (r *Router) handleForgotPassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if payload.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "email is required")
		return
	}
	if err := r.accounts.ForgotPassword(req.Context(), payload.Email); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset email sent"})
}

func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if payload.Username == "" || payload.Token == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "username, token and password are required")
		return
	}
	if err := r.accounts.ResetPassword(req.Context(), payload.Username, payload.Token, payload.Password); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}

// handleEventsWS streams follow events for the authenticated account.
func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "authorization context missing")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.Username, client)
	defer func() {
		r.hub.Unregister(info.Username, client)
		client.Close()
	}()
	client.WaitClosed()
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// writeServiceError maps domain errors to stable caller-visible kinds.
// Anything unmapped is an infrastructure failure: logged with context,
// surfaced generically.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "invalid_username", err.Error())
	case errors.Is(err, account.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username_taken", err.Error())
	case errors.Is(err, account.ErrMissingSearchTerm):
		writeError(w, http.StatusBadRequest, "missing_search_term", err.Error())
	case errors.Is(err, account.ErrNoSuchAccount), errors.Is(err, follow.ErrNoSuchAccount):
		writeError(w, http.StatusNotFound, "no_such_account", err.Error())
	case errors.Is(err, account.ErrVerificationInvalid):
		writeError(w, http.StatusBadRequest, "verification_invalid", err.Error())
	case errors.Is(err, account.ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, "token_invalid", err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, follow.ErrSelfFollow):
		writeError(w, http.StatusBadRequest, "self_follow", err.Error())
	case errors.Is(err, follow.ErrAlreadyFollowing):
		writeError(w, http.StatusConflict, "already_following", err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
