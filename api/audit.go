package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess         AuditEvent = "login_success"
	AuditLoginFailure         AuditEvent = "login_failure"
	AuditLoginRateLimited     AuditEvent = "login_rate_limited"
	AuditServiceKeyMissing    AuditEvent = "service_key_missing"
	AuditServiceKeyInvalid    AuditEvent = "service_key_invalid"
	AuditServiceRequestStale  AuditEvent = "service_request_stale"
	AuditServiceEventReplayed AuditEvent = "service_event_replayed"
	AuditProjectCreated       AuditEvent = "project_created"
	AuditProjectMemberAdded   AuditEvent = "project_member_added"
	AuditProjectMemberRemoved AuditEvent = "project_member_removed"
	AuditTeamMemberCreated    AuditEvent = "team_member_created"
)

// Caller kinds recorded as actor_type.
const (
	callerSession   = "session"
	callerService   = "service"
	callerAnonymous = "anonymous"
)

// auditCaller identifies who performed an audited action.
type auditCaller struct {
	actor   string
	kind    string
	eventID string
}

// callerOf derives the caller from the request's authentication context.
func callerOf(r *http.Request) auditCaller {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return auditCaller{actor: p.SubjectID, kind: callerSession}
	}
	if sa, ok := ServiceAuthFromContext(r.Context()); ok {
		return serviceCaller(sa.EventID)
	}
	return auditCaller{actor: callerAnonymous, kind: callerAnonymous}
}

// serviceCaller is a caller whose key has been accepted.
func serviceCaller(eventID string) auditCaller {
	return auditCaller{actor: callerService, kind: callerService, eventID: eventID}
}

// auditLogger wraps slog.Logger for structured security audit logging.
// A nil *auditLogger discards everything.
type auditLogger struct {
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger, c clock.Clock) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		clock:  c,
	}
}

// log writes a structured audit entry and forwards it to the metrics
// collector and webhook when configured.
func (al *auditLogger) log(event AuditEvent, r *http.Request, c auditCaller, attrs ...slog.Attr) {
	if al == nil {
		return
	}
	now := al.clock.Now().UTC()
	requestID := chimiddleware.GetReqID(r.Context())

	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("actor", c.actor),
		slog.String("actor_type", c.kind),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	if c.eventID != "" {
		base = append(base, slog.String("event_id", c.eventID))
	}
	if requestID != "" {
		base = append(base, slog.String("request_id", requestID))
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			Actor:      c.actor,
			ActorType:  c.kind,
			EventID:    c.eventID,
			RequestID:  requestID,
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now.Format(time.RFC3339Nano),
		}
		if len(attrs) > 0 {
			evt.Attrs = make(map[string]string, len(attrs))
			for _, a := range attrs {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logEvent records an action by the request's authenticated caller.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, extra ...slog.Attr) {
	al.log(event, r, callerOf(r), extra...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, callerOf(r), append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
