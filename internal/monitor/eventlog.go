package monitor

import (
	"context"
	"fmt"
	"sync"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
)

// DefaultEventLimit é quantas entradas o log guarda
const DefaultEventLimit = 100

// EventLog guarda os eventos mais recentes primeiro, descartando os mais antigos
type EventLog struct {
	mu      sync.RWMutex
	entries []models.MonitorEvent
	limit   int

	saveMu sync.Mutex
	store  Store
	logger logger.Logger
}

// NewEventLog cria o log. store pode ser nil.
func NewEventLog(limit int, store Store, log logger.Logger) *EventLog {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &EventLog{limit: limit, store: store, logger: log}
}

// Load recupera as entradas salvas na execução anterior
func (l *EventLog) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	events, err := l.store.LoadEvents(ctx)
	if err != nil {
		return fmt.Errorf("erro ao carregar eventos: %w", err)
	}
	l.mu.Lock()
	if len(events) > l.limit {
		events = events[:l.limit]
	}
	l.entries = events
	l.mu.Unlock()
	return nil
}

// Append adiciona eventos (em ordem cronológica) e grava o log
func (l *EventLog) Append(ctx context.Context, events ...models.MonitorEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		l.write(ev)
	}

	l.mu.Lock()
	merged := make([]models.MonitorEvent, 0, len(l.entries)+len(events))
	for i := len(events) - 1; i >= 0; i-- {
		merged = append(merged, events[i])
	}
	merged = append(merged, l.entries...)
	if len(merged) > l.limit {
		merged = merged[:l.limit]
	}
	l.entries = merged
	l.mu.Unlock()

	l.persist(ctx)
}

// Entries retorna uma cópia, do mais recente para o mais antigo
func (l *EventLog) Entries() []models.MonitorEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.MonitorEvent, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear apaga o log
func (l *EventLog) Clear(ctx context.Context) {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	l.persist(ctx)
}

func (l *EventLog) persist(ctx context.Context) {
	if l.store == nil {
		return
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if err := l.store.SaveEvents(ctx, l.Entries()); err != nil {
		l.logger.Error("Erro ao salvar log de eventos", logger.Error(err))
	}
}

func (l *EventLog) write(ev models.MonitorEvent) {
	fields := []logger.Field{
		logger.String("product_id", ev.ProductID),
		logger.String("variant_id", ev.VariantID),
		logger.String("status", string(ev.Status)),
	}
	if ev.HTTPStatus != nil {
		fields = append(fields, logger.Int("http_status", *ev.HTTPStatus))
	}
	if ev.Latency != nil {
		fields = append(fields, logger.Duration("latency", *ev.Latency))
	}

	switch ev.Status {
	case models.StatusError, models.StatusNetworkError, models.StatusAntiBot, models.StatusAutoPaused:
		l.logger.Warn(ev.Message, fields...)
	case models.StatusSuccess:
		l.logger.Debug(ev.Message, fields...)
	default:
		l.logger.Info(ev.Message, fields...)
	}
}
