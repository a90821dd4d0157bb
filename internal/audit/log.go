// Package audit records administrative and credential events. Every event is
// written to the structured audit log stream; policy mutations are also
// persisted through an auth.AuditStore.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"portero.org/internal/auth"
	"portero.org/internal/ids"
	"portero.org/internal/obs"
)

// LogEvent writes an audit log entry enriched with request and identity context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := obs.Ctx(ctx).With().Str("type", "audit").Logger()
	ev := l.Info().Str("event", event)
	if id, ok := auth.IdentityIDFromContext(ctx); ok {
		ev = ev.Str("actor_id", id)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg("audit")
	return nil
}

// Recorder implements auth.AuditStore on top of an optional persistent store.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

// NewRecorder builds a recorder. A nil store keeps entries in the log only.
func NewRecorder(store auth.AuditStore, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, now: now}
}

// AppendAudit fills missing id, time and actor, logs the entry and persists it.
func (r *Recorder) AppendAudit(ctx context.Context, entry *auth.AuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is nil")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.OccurredAt)
	}
	if entry.ActorID == "" {
		if id, ok := auth.IdentityIDFromContext(ctx); ok {
			entry.ActorID = id
		}
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		entry.Metadata["request_id"] = rid
	}
	fields := map[string]any{
		"audit_id":      entry.ID,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
	}
	for k, v := range entry.Metadata {
		if k == "request_id" {
			continue
		}
		fields["meta_"+k] = v
	}
	if err := LogEvent(ctx, entry.Action, fields); err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}
	return r.store.AppendAudit(ctx, entry)
}
