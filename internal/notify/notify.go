// Package notify delivers credential lifecycle notices (MFA codes, expiry
// warnings, lockouts) without ever blocking the caller's credential operation.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Kind names a notification template.
type Kind string

const (
	KindMFACode               Kind = "mfa_code"
	KindPasswordExpiryWarning Kind = "password_expiry_warning"
	KindPasswordExpired       Kind = "password_expired"
	KindAccountLocked         Kind = "account_locked"
)

// Notification is a single message for a recipient.
type Notification struct {
	Kind      Kind           `json:"kind"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier sends a notification. Implementations may be slow or fail; callers
// in the credential path go through a Dispatcher.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to the log. It is the default sink when no
// transport is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	ev := l.logger.Info().Str("kind", string(n.Kind)).Str("recipient", n.Recipient)
	for k, v := range n.Data {
		if k == "code" {
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg("notification")
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of what was recorded.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfKind returns the recorded notifications of one kind.
func (r *Recorder) OfKind(kind Kind) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
