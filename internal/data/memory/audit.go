package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/logger"
)

// AuditRecorder keeps events in the store so they roll back with the surrounding transaction
type AuditRecorder struct {
	s *Store
}

func (r *AuditRecorder) Record(ctx context.Context, _ pgx.Tx, tenantID uuid.UUID, loanID, actorID *uuid.UUID, details audit.Details) error {
	event, err := audit.NewEvent(tenantID, loanID, actorID, details, logger.CorrelationIDFromContext(ctx), time.Now().UTC())
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("audit.Record"); err != nil {
		return err
	}
	r.s.data.events = append(r.s.data.events, *event)
	return nil
}
