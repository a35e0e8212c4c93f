package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/memstore"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecord(t *testing.T) {
	ms := memstore.New()
	l := &Log{Sink: ms, Logger: zap.NewNop()}

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	l.Record(ctx, Entry{
		Action:         "order.paid",
		EntityType:     "order",
		EntityID:       "o-1",
		Meta:           map[string]any{"total": 95000},
		IdempotencyKey: "order:paid:o-1",
		Actor:          "admin",
	})

	events := ms.AuditEvents()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "order.paid", ev.Action)
	assert.Equal(t, "order", ev.EntityType)
	require.NotNil(t, ev.EntityID)
	assert.Equal(t, "o-1", *ev.EntityID)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "admin", ev.Actor)
	assert.NotEmpty(t, ev.ID)
}

func TestRecordDuplicateKeyIsIgnored(t *testing.T) {
	ms := memstore.New()
	core, logs := observer.New(zap.DebugLevel)
	l := &Log{Sink: ms, Logger: zap.New(core)}

	e := Entry{Action: "return.completed", EntityType: "return", EntityID: "r-1", IdempotencyKey: "return:completed:r-1"}
	l.Record(context.Background(), e)
	l.Record(context.Background(), e)

	assert.Len(t, ms.AuditEvents(), 1)
	assert.Equal(t, 0, logs.FilterMessage("audit write failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("audit event already recorded").Len())
}

func TestRecordSwallowsFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		warning bool
	}{
		{name: "unavailable", err: store.ErrUnavailable, warning: false},
		{name: "other", err: errors.New("disk full"), warning: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ms := memstore.New()
			ms.AuditErr = tc.err
			core, logs := observer.New(zap.DebugLevel)
			l := &Log{Sink: ms, Logger: zap.New(core)}

			assert.NotPanics(t, func() {
				l.Record(context.Background(), Entry{Action: "order.created", EntityType: "order"})
			})
			if tc.warning {
				assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
			} else {
				assert.Equal(t, 0, logs.FilterMessage("audit write failed").Len())
			}
		})
	}
}

func TestRecordNilLog(t *testing.T) {
	var l *Log
	assert.NotPanics(t, func() { l.Record(context.Background(), Entry{Action: "x"}) })
}
