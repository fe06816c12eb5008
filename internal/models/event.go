package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus é o tipo de uma entrada do log de monitoramento
type EventStatus string

const (
	StatusSuccess             EventStatus = "success"
	StatusError               EventStatus = "error"
	StatusNetworkError        EventStatus = "network_error"
	StatusAntiBot             EventStatus = "anti_bot"
	StatusAvailabilityChanged EventStatus = "availability_changed"
	StatusInstantCheck        EventStatus = "instant_check"
	StatusAutoPaused          EventStatus = "auto_paused"
	StatusInfo                EventStatus = "info"
)

// MonitorEvent é uma entrada do log de monitoramento. Apenas observacional.
type MonitorEvent struct {
	ID          string
	ProductID   string
	ProductName string
	VariantID   string
	Status      EventStatus
	Message     string
	Timestamp   time.Time
	Latency     *time.Duration
	HTTPStatus  *int
}

// NewEvent cria um evento com id e horário preenchidos
func NewEvent(p *Product, variantID string, status EventStatus, message string) MonitorEvent {
	ev := MonitorEvent{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if p != nil {
		ev.ProductID = p.ID
		ev.ProductName = p.Name
	}
	return ev
}
