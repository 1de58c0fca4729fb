package authcore

import (
	"context"
	"io"

	internalaudit "github.com/nur2097/template-project-sub000/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is an audit record delivered to an AuditSink.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink delivers audit events on a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink writes audit events through zerolog.
type LogSink = internalaudit.LogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogSink returns a sink writing to log.
func NewLogSink(log zerolog.Logger) *LogSink {
	return internalaudit.NewLogSink(log)
}

// Audit event types.
const (
	AuditLoginSuccess       = "login_success"
	AuditLoginFailure       = "login_failure"
	AuditRefreshSuccess     = "refresh_success"
	AuditRefreshFailure     = "refresh_failure"
	AuditDeviceEvicted      = "device_evicted"
	AuditRevokeToken        = "revoke_token"
	AuditRevokeDevice       = "revoke_device"
	AuditRevokeUser         = "revoke_user"
	AuditInvalidateCompany  = "invalidate_company"
	AuditBlacklistFailOpen  = "blacklist_fail_open"
	AuditCascadeRetryFailed = "eviction_cascade_failed"
)

func (e *Engine) emitAudit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = correlationIDFromContext(ctx)
	}
	ev.Timestamp = e.config.now().UTC()
	e.audit.Emit(ctx, ev)
}

func companyOf(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// AuditDropped returns the number of audit events dropped due to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
