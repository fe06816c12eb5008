package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Erros de validação de produtos e variantes
var (
	ErrNoVariants       = errors.New("produto sem variantes")
	ErrDuplicateVariant = errors.New("variante com URL duplicada")
	ErrLastVariant      = errors.New("não é possível remover a última variante")
	ErrVariantNotFound  = errors.New("variante não encontrada")
	ErrInvalidURL       = errors.New("URL inválida")
)

// SeedProductID identifica o produto padrão criado quando não há nada salvo
const SeedProductID = "seed-default"

// Product representa um anúncio monitorado, com uma ou mais variantes
type Product struct {
	ID         string
	URL        string
	Name       string
	ImageURL   string
	Interval   time.Duration
	AutoStart  bool
	UserAgent  string // Sobrescreve a rotação de User-Agent quando preenchido
	MaxRetries int    // Erros consecutivos antes da pausa automática
	Variants   []Variant
	CreatedAt  time.Time
}

// DiscoveredVariant é uma opção de compra encontrada na página do produto
type DiscoveredVariant struct {
	Kind     VariantKind
	Name     string
	URL      string
	SKU      string
	ImageURL string
	Price    string
}

// NewSingleVariantProduct cria um produto com uma única variante apontando para a própria URL
func NewSingleVariantProduct(rawURL, name string, interval time.Duration, maxRetries int) (*Product, error) {
	p := newProduct(rawURL, name, interval, maxRetries)
	p.Variants = []Variant{NewVariant(KindSingle, "", p.URL)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewMultiVariantProduct cria um produto a partir das variantes descobertas na página
func NewMultiVariantProduct(rawURL, name string, interval time.Duration, maxRetries int, discovered []DiscoveredVariant) (*Product, error) {
	if len(discovered) == 0 {
		return nil, ErrNoVariants
	}
	p := newProduct(rawURL, name, interval, maxRetries)
	for _, d := range discovered {
		kind := d.Kind
		if kind == "" {
			kind = KindNamed
		}
		v := NewVariant(kind, d.Name, d.URL)
		v.SKU = d.SKU
		v.ImageURL = d.ImageURL
		v.Price = d.Price
		// Duplicadas são ignoradas silenciosamente
		p.AddVariant(v)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultSeed retorna o produto padrão usado na primeira execução
func DefaultSeed(rawURL, name string, interval time.Duration, maxRetries int) Product {
	p := newProduct(rawURL, name, interval, maxRetries)
	p.ID = SeedProductID
	v := NewVariant(KindSingle, "", p.URL)
	v.ID = SeedProductID + "-primary"
	p.Variants = []Variant{v}
	return *p
}

func newProduct(rawURL, name string, interval time.Duration, maxRetries int) *Product {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Product{
		ID:         uuid.NewString(),
		URL:        CleanURL(rawURL),
		Name:       strings.TrimSpace(name),
		Interval:   interval,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
}

// Validate verifica as invariantes do produto
func (p *Product) Validate() error {
	if len(p.Variants) == 0 {
		return ErrNoVariants
	}
	if err := ValidateURL(p.URL); err != nil {
		return err
	}
	if p.Interval <= 0 {
		return fmt.Errorf("intervalo inválido: %v", p.Interval)
	}
	seen := make(map[string]struct{}, len(p.Variants))
	ids := make(map[string]struct{}, len(p.Variants))
	for _, v := range p.Variants {
		if v.Interval < 0 {
			return fmt.Errorf("variante %s: intervalo inválido: %v", v.ID, v.Interval)
		}
		if err := ValidateURL(v.URL); err != nil {
			return fmt.Errorf("variante %s: %w", v.ID, err)
		}
		if _, dup := seen[v.URL]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateVariant, v.URL)
		}
		if _, dup := ids[v.ID]; dup || v.ID == "" {
			return fmt.Errorf("id de variante inválido ou repetido: %q", v.ID)
		}
		seen[v.URL] = struct{}{}
		ids[v.ID] = struct{}{}
	}
	return nil
}

// AddVariant adiciona a variante se ainda não existir outra com a mesma URL.
// Um ID vazio ou já usado no produto é trocado por um novo.
func (p *Product) AddVariant(v Variant) bool {
	v.URL = CleanURL(v.URL)
	for _, existing := range p.Variants {
		if existing.URL == v.URL {
			return false
		}
	}
	if v.ID == "" || p.variantIndex(v.ID) >= 0 {
		v.ID = uuid.NewString()
	}
	p.Variants = append(p.Variants, v)
	return true
}

// RemoveVariant remove uma variante; o produto nunca fica sem variantes
func (p *Product) RemoveVariant(variantID string) error {
	idx := p.variantIndex(variantID)
	if idx < 0 {
		return ErrVariantNotFound
	}
	if len(p.Variants) == 1 {
		return ErrLastVariant
	}
	p.Variants = append(p.Variants[:idx], p.Variants[idx+1:]...)
	return nil
}

// Variant retorna um ponteiro para a variante (nil se não existir)
func (p *Product) Variant(variantID string) *Variant {
	if idx := p.variantIndex(variantID); idx >= 0 {
		return &p.Variants[idx]
	}
	return nil
}

// IntervalFor retorna o intervalo efetivo da variante
func (p *Product) IntervalFor(v *Variant) time.Duration {
	if v.Interval > 0 {
		return v.Interval
	}
	return p.Interval
}

// Primary retorna a primeira variante, usada pelo comportamento de variante única
func (p *Product) Primary() *Variant {
	if len(p.Variants) == 0 {
		return nil
	}
	return &p.Variants[0]
}

// IsMonitoring indica se alguma variante está sendo monitorada
func (p *Product) IsMonitoring() bool {
	for _, v := range p.Variants {
		if v.IsMonitoring {
			return true
		}
	}
	return false
}

// Clone faz uma cópia profunda (snapshots para persistência e leitura)
func (p *Product) Clone() Product {
	c := *p
	c.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		c.Variants[i] = v.clone()
	}
	return c
}

func (p *Product) variantIndex(variantID string) int {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return i
		}
	}
	return -1
}

// CleanURL remove espaços e o fragmento (#...) da URL
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "#"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}

// ValidateURL aceita apenas URLs absolutas http(s)
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
