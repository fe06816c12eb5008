package monitor

import (
	"fmt"
	"time"

	"stock-monitor/internal/models"
	"stock-monitor/internal/scraper"
)

// IndeterminatePolicy decide o que fazer quando a página não tem marcador nenhum
type IndeterminatePolicy string

const (
	// KeepPrior mantém o estado anterior; na primeira verificação assume disponível
	KeepPrior         IndeterminatePolicy = "keep_prior"
	AssumeAvailable   IndeterminatePolicy = "assume_available"
	AssumeUnavailable IndeterminatePolicy = "assume_unavailable"
)

func (p IndeterminatePolicy) resolve(prior, initial bool) bool {
	switch p {
	case AssumeAvailable:
		return true
	case AssumeUnavailable:
		return false
	default:
		if initial {
			return true
		}
		return prior
	}
}

// CheckResult é o resultado de uma verificação, antes de ser aplicado à variante
type CheckResult struct {
	Verdict    scraper.Verdict
	Err        error // falha de busca; quando preenchido o Verdict é ignorado
	HTTPStatus int
	Latency    time.Duration
}

// outcome descreve o que a aplicação do resultado mudou
type outcome struct {
	events          []models.MonitorEvent
	failed          bool
	changed         bool
	becameAvailable bool
	autoPaused      bool
	product         models.Product
	variant         models.Variant
}

// applyCheckResult aplica o resultado à variante. A ordem importa:
// contadores primeiro, depois falha/sucesso, e só então a comparação de disponibilidade.
// Falhas nunca alteram IsAvailable.
func applyCheckResult(p *models.Product, v *models.Variant, r CheckResult, policy IndeterminatePolicy, now time.Time) outcome {
	var out outcome

	v.TotalChecks++
	v.LastChecked = now

	newEvent := func(status models.EventStatus, format string, args ...interface{}) {
		ev := models.NewEvent(p, v.ID, status, fmt.Sprintf("[%s] ", v.DisplayName())+fmt.Sprintf(format, args...))
		ev.Timestamp = now
		if r.Latency > 0 {
			latency := r.Latency
			ev.Latency = &latency
		}
		if r.HTTPStatus != 0 {
			code := r.HTTPStatus
			ev.HTTPStatus = &code
		}
		out.events = append(out.events, ev)
	}

	invalidInput := scraper.IsFailure(r.Err, scraper.FailureInvalidURL)
	switch {
	case invalidInput:
		out.failed = true
		newEvent(models.StatusError, "URL inválida: %v", r.Err)
	case r.Err != nil:
		out.failed = true
		newEvent(models.StatusNetworkError, "Erro de rede: %v", r.Err)
	case r.Verdict.Availability == scraper.AntiBotBlocked:
		out.failed = true
		newEvent(models.StatusAntiBot, "Bloqueio anti-bot detectado (%s)", r.Verdict.Marker)
	}

	if out.failed {
		v.ErrorCount++
		if v.IsMonitoring && (invalidInput || v.ErrorCount >= p.MaxRetries) {
			v.IsMonitoring = false
			out.autoPaused = true
			newEvent(models.StatusAutoPaused, "Monitoramento pausado automaticamente após %d erros consecutivos", v.ErrorCount)
		}
		out.snapshot(p, v)
		return out
	}

	initial := v.SuccessfulChecks == 0
	v.ErrorCount = 0
	v.SuccessfulChecks++

	var available bool
	switch r.Verdict.Availability {
	case scraper.Available:
		available = true
	case scraper.Unavailable:
		available = false
	default:
		available = policy.resolve(v.IsAvailable, initial)
	}

	previous := v.IsAvailable
	v.IsAvailable = available
	updateDisplayFields(p, v, r.Verdict)

	if available != previous {
		out.changed = true
		out.becameAvailable = available
		if available {
			newEvent(models.StatusAvailabilityChanged, "Disponível! (%s)", describeVerdict(r.Verdict))
		} else {
			newEvent(models.StatusAvailabilityChanged, "Ficou indisponível (%s)", describeVerdict(r.Verdict))
		}
	} else {
		newEvent(models.StatusSuccess, "Verificado: %s", availabilityLabel(available))
	}

	out.snapshot(p, v)
	return out
}

func (o *outcome) snapshot(p *models.Product, v *models.Variant) {
	o.product = p.Clone()
	if cv := o.product.Variant(v.ID); cv != nil {
		o.variant = *cv
	}
}

// updateDisplayFields copia os campos extraídos que vieram preenchidos
func updateDisplayFields(p *models.Product, v *models.Variant, verdict scraper.Verdict) {
	if verdict.Name != "" {
		v.Name = verdict.Name
		if p.Name == "" {
			p.Name = verdict.Name
		}
	}
	if verdict.Price != "" {
		v.Price = verdict.Price
	}
	if verdict.ImageURL != "" {
		v.ImageURL = verdict.ImageURL
		if p.ImageURL == "" {
			p.ImageURL = verdict.ImageURL
		}
	}
	if verdict.SKU != "" {
		v.SKU = verdict.SKU
	}
	if verdict.Stock != nil {
		stock := *verdict.Stock
		v.Stock = &stock
	}
}

func describeVerdict(v scraper.Verdict) string {
	if v.Availability == scraper.Indeterminate {
		return "sem marcadores, política padrão"
	}
	return v.Marker
}

func availabilityLabel(available bool) string {
	if available {
		return "disponível"
	}
	return "indisponível"
}
