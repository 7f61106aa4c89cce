package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"helpdesk.org/internal/audit"
	"helpdesk.org/internal/auth"
	"helpdesk.org/internal/obs"
	"helpdesk.org/internal/ratelimit"
	"helpdesk.org/internal/ticket"
)

const serviceName = "helpdesk-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Options wires the API to its collaborators.
type Options struct {
	Auth     *auth.Service
	Tickets  *ticket.Service
	Limiters *ratelimit.Registry
	Audit    *audit.Logger
	Logger   *zap.Logger
	Ready    readinessChecker
	Version  string

	AllowedOrigins []string
	AdminEmails    []string
	MaxBodyBytes   int64
	// TrustProxy keys rate limits on the first X-Forwarded-For entry.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	tickets  *ticket.Service
	limiters *ratelimit.Registry
	audit    *audit.Logger
	log      *zap.Logger
	ready    readinessChecker
	version  string

	origins      map[string]struct{}
	adminEmails  map[string]struct{}
	maxBodyBytes int64
	trustProxy   bool
}

func New(opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		auth:         opts.Auth,
		tickets:      opts.Tickets,
		limiters:     opts.Limiters,
		audit:        opts.Audit,
		log:          opts.Logger,
		ready:        opts.Ready,
		version:      opts.Version,
		origins:      toSet(opts.AllowedOrigins, false),
		adminEmails:  toSet(opts.AdminEmails, true),
		maxBodyBytes: opts.MaxBodyBytes,
		trustProxy:   opts.TrustProxy,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("GET /v1/info", a.v1(http.HandlerFunc(a.Info)))
	a.mux.Handle("POST /v1/auth/register", a.v1(http.HandlerFunc(a.handleRegister), ratelimit.Auth))
	a.mux.Handle("POST /v1/auth/login", a.v1(http.HandlerFunc(a.handleLogin), ratelimit.Auth))
	a.mux.Handle("GET /v1/me", a.v1(a.withAuth(http.HandlerFunc(a.handleMe))))
	a.mux.Handle("POST /v1/tickets", a.v1(a.withAuth(http.HandlerFunc(a.handleCreateTicket)), ratelimit.Tickets))
	a.mux.Handle("GET /v1/tickets/{id}", a.v1(a.withAuth(http.HandlerFunc(a.handleGetTicket))))
	a.mux.Handle("PATCH /v1/tickets/{id}/status", a.v1(a.withAuth(a.requireAdmin(http.HandlerFunc(a.handleUpdateStatus)))))

	return a
}

// v1 applies the general API limiter and then any route-specific ones.
func (a *API) v1(h http.Handler, limiters ...string) http.Handler {
	for i := len(limiters) - 1; i >= 0; i-- {
		h = a.rateLimit(limiters[i], h)
	}
	return a.rateLimit(ratelimit.API, h)
}

func (a *API) rateLimit(name string, next http.Handler) http.Handler {
	l, ok := a.limiters.Get(name)
	if !ok {
		return next
	}
	return RateLimit(l, name, a.clientKey)(next)
}

func (a *API) clientKey(r *http.Request) string {
	return clientIP(r, a.trustProxy)
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = LoggingJSON(a.log)(h)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     serviceName,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"limiters": a.limiters.Names(),
	})
}

func toSet(values []string, lower bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
