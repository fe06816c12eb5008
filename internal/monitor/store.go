package monitor

import (
	"context"

	"stock-monitor/internal/models"
	"stock-monitor/internal/scraper"
)

// Store persiste snapshots completos de produtos e do log de eventos
type Store interface {
	SaveProducts(ctx context.Context, products []models.Product) error
	LoadProducts(ctx context.Context) ([]models.Product, error)
	SaveEvents(ctx context.Context, events []models.MonitorEvent) error
	LoadEvents(ctx context.Context) ([]models.MonitorEvent, error)
}

// Notifier recebe o aviso de que uma variante ficou disponível (false -> true)
type Notifier interface {
	NotifyAvailable(ctx context.Context, product models.Product, variant models.Variant) error
}

// NotifierFunc adapta uma função para Notifier
type NotifierFunc func(ctx context.Context, product models.Product, variant models.Variant) error

func (f NotifierFunc) NotifyAvailable(ctx context.Context, product models.Product, variant models.Variant) error {
	return f(ctx, product, variant)
}

// ClassifierSource escolhe o classificador para uma URL (ver scraper.Registry)
type ClassifierSource interface {
	For(url string) scraper.Classifier
}
