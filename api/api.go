package api

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/agentgate/agent"
	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Publisher delivers realtime events to connected sockets.
type Publisher interface {
	Publish(event string, payload any, room string) error
	PublishExceptActor(event string, payload any, actorID, room string) error
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	verifier *auth.Verifier
	tokens   auth.TokenVerifier
	guard    *ServiceKeyGuard
	records  *storage.Records
	hub      Publisher
	agent    *agent.Client

	protectRecords bool
	trustedProxies []netip.Prefix

	clock    clock.Clock
	logger   *slog.Logger
	limiters *loginLimiters
	audit    *auditLogger

	registerer prometheus.Registerer
	alertFn    AlertFunc
	webhookURL string
	webhookHdr string
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handlers and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithClock sets the clock used by the login limiters.
func WithClock(c clock.Clock) Option {
	return func(a *API) { a.clock = c }
}

// WithRecordProtection requires a session token on the project and team
// member routes.
func WithRecordProtection(on bool) Option {
	return func(a *API) { a.protectRecords = on }
}

// WithAgent enables POST /agent/chat.
func WithAgent(c *agent.Client) Option {
	return func(a *API) { a.agent = c }
}

// WithMetricsRegisterer exposes audit event counters on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(a *API) { a.registerer = reg }
}

// WithAlertHandler sets a callback invoked when failure spikes are detected.
func WithAlertHandler(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook forwards audit events to url. header is an optional
// "Name: value" pair sent with every request.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHdr = header
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are honored
// when attributing login attempts to a client IP.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes, err := ParseTrustedProxies(cidrs)
	if err != nil {
		return nil, err
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// New creates a new API instance. guard and hub may be nil; without a guard
// the service routes reject every request.
func New(verifier *auth.Verifier, tokens auth.TokenVerifier, guard *ServiceKeyGuard, records *storage.Records, hub Publisher, opts ...Option) *API {
	a := &API{
		verifier: verifier,
		tokens:   tokens,
		guard:    guard,
		records:  records,
		hub:      hub,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	a.limiters = newLoginLimiters(a.clock)

	a.audit = newAuditLogger(a.logger, a.clock)
	a.audit.metrics = newMetricsCollector(a.alertFn)
	if a.registerer != nil {
		if err := a.audit.metrics.register(a.registerer); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				a.logger.Warn("audit metrics not registered", "error", err)
			}
		}
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHdr, a.clock)
	}
	if guard != nil {
		guard.audit = a.audit
	}
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
		a.audit.webhook = nil
	}
}

// RunMaintenance sweeps expired login limiter state every interval until
// ctx is done.
func (a *API) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := a.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiters.sweep()
		}
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.With(a.AuthMiddleware).Get("/auth/me", a.Me)
	r.With(a.AuthMiddleware).Post("/agent/chat", a.AgentChat)

	r.Group(func(r chi.Router) {
		r.Use(a.recordsAuth)
		r.Get("/projects", a.ListProjects)
		r.Post("/projects/create", a.CreateProject)
		r.Put("/projects/{projectID}/team-members/{userID}", a.AddProjectMember)
		r.Delete("/projects/{projectID}/team-members/{userID}", a.RemoveProjectMember)
		r.Get("/team-members", a.ListTeamMembers)
		r.Post("/team-members/create", a.CreateTeamMember)
	})

	r.Route("/tools", func(r chi.Router) {
		r.Use(a.serviceAuth)
		r.Post("/projects/create", a.CreateProject)
		r.Post("/team-members/create", a.CreateTeamMember)
	})

	return r
}

// serviceAuth defers to the ServiceKeyGuard, refusing every request when
// none is configured.
func (a *API) serviceAuth(next http.Handler) http.Handler {
	guarded := a.guard.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.guard == nil {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		guarded.ServeHTTP(w, r)
	})
}
