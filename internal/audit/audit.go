// Package audit records best-effort audit events. A failed write is logged and
// never propagated to the business operation that triggered it.
package audit

import (
	"context"
	"errors"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Sink interface {
	InsertAuditEvent(ctx context.Context, ev *domain.AuditEvent) error
}

type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	Meta       map[string]any
	// IdempotencyKey collapses retries of the same event; empty means always write.
	IdempotencyKey string
	Actor          string
}

type Log struct {
	Sink   Sink
	Logger *zap.Logger
}

// Record writes e. Duplicate keys and a missing audit table are expected and ignored.
func (l *Log) Record(ctx context.Context, e Entry) {
	if l == nil || l.Sink == nil {
		return
	}
	ev := &domain.AuditEvent{
		Action:     e.Action,
		EntityType: e.EntityType,
		Meta:       e.Meta,
		Actor:      e.Actor,
		RequestID:  middleware.GetReqID(ctx),
	}
	if e.EntityID != "" {
		id := e.EntityID
		ev.EntityID = &id
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		ev.IdempotencyKey = &key
	}

	err := l.Sink.InsertAuditEvent(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicate):
		l.logger().Debug("audit event already recorded",
			zap.String("action", e.Action), zap.String("key", e.IdempotencyKey))
	case errors.Is(err, store.ErrUnavailable):
		l.logger().Debug("audit sink unavailable", zap.String("action", e.Action), zap.Error(err))
	default:
		l.logger().Warn("audit write failed",
			zap.String("action", e.Action),
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID),
			zap.Error(err))
	}
}

func (l *Log) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
