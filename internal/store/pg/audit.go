package pg

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"portero.org/internal/auth"
)

func (s *Store) AppendAudit(ctx context.Context, entry *auth.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil audit entry", auth.ErrInvalidInput)
	}
	meta := []byte("{}")
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, actor_id, action, resource_type, resource_id, metadata)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OccurredAt, nullIfEmpty(entry.ActorID), entry.Action, entry.ResourceType,
		nullIfEmpty(entry.ResourceID), string(meta))
	return err
}
