package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one passcode disclosure decision made by the gateway.
// Every grant and denial is logged: passcodes unlock financial accounts, so
// the trail of who asked for what must survive in the log stream.
type AuditEvent struct {
	EventType  string // otp_issued, otp_denied
	Service    string
	RemoteAddr string
	RequestID  string
	Success    bool
	DenyReason string
}

// AuditLogger writes passcode access events to the structured log.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogOTPAccess logs one passcode request. Denials log at warn so they stand
// out when tailing: a denied request against the loopback gateway usually
// means the agent is misconfigured or page content is probing it.
func (al *AuditLogger) LogOTPAccess(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "otp_access"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Service != "" {
		attrs = append(attrs, slog.String("service", event.Service))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.DenyReason != "" {
		attrs = append(attrs, slog.String("deny_reason", event.DenyReason))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}
