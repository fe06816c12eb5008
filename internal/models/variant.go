package models

import (
	"time"

	"github.com/google/uuid"
)

// VariantKind classifica a opção de compra
type VariantKind string

const (
	KindSingle   VariantKind = "single"    // caixa avulsa
	KindWholeSet VariantKind = "whole_set" // caixa fechada / conjunto completo
	KindRandom   VariantKind = "random"
	KindLimited  VariantKind = "limited"
	KindSpecific VariantKind = "specific" // escolha específica
	KindNamed    VariantKind = "named"    // opção descoberta na página
)

// ParseVariantKind converte texto em VariantKind; desconhecidos viram KindNamed
func ParseVariantKind(s string) VariantKind {
	switch k := VariantKind(s); k {
	case KindSingle, KindWholeSet, KindRandom, KindLimited, KindSpecific, KindNamed:
		return k
	default:
		return KindNamed
	}
}

// Variant é uma opção de compra monitorada de forma independente
type Variant struct {
	ID         string
	Kind       VariantKind
	OptionName string
	URL        string
	Interval   time.Duration // 0 = usa o intervalo do produto

	// Campos de exibição, preenchidos quando o classificador encontra
	Name     string
	Price    string
	ImageURL string
	SKU      string
	Stock    *int

	IsAvailable      bool
	IsMonitoring     bool
	LastChecked      time.Time
	TotalChecks      int
	SuccessfulChecks int
	ErrorCount       int
}

// NewVariant cria uma variante ociosa e indisponível
func NewVariant(kind VariantKind, optionName, rawURL string) Variant {
	return Variant{
		ID:         uuid.NewString(),
		Kind:       kind,
		OptionName: optionName,
		URL:        CleanURL(rawURL),
	}
}

// DisplayName retorna o melhor nome disponível para a variante
func (v *Variant) DisplayName() string {
	switch {
	case v.OptionName != "":
		return v.OptionName
	case v.Name != "":
		return v.Name
	default:
		return string(v.Kind)
	}
}

func (v Variant) clone() Variant {
	if v.Stock != nil {
		stock := *v.Stock
		v.Stock = &stock
	}
	return v
}
