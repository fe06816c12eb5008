package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
)

var (
	ErrProductNotFound  = errors.New("produto não encontrado")
	ErrDuplicateProduct = errors.New("este produto já está sendo monitorado")
)

// ProductSettings são os campos editáveis de um produto; nil = não alterar
type ProductSettings struct {
	Name       *string
	ImageURL   *string
	Interval   *time.Duration
	AutoStart  *bool
	UserAgent  *string
	MaxRetries *int
}

// Registry é a coleção em memória de produtos. Toda mutação é gravada no Store
// em seguida (write-through). Os contadores das variantes só mudam via applyCheck.
type Registry struct {
	mu       sync.RWMutex
	products []*models.Product

	saveMu sync.Mutex
	store  Store
	seed   models.Product
	logger logger.Logger
}

// NewRegistry cria o registro. store pode ser nil (sem persistência).
func NewRegistry(store Store, seed models.Product, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{store: store, seed: seed, logger: log}
}

// Load carrega os produtos salvos; se não houver nenhum, cria o produto padrão
func (r *Registry) Load(ctx context.Context) error {
	var loaded []models.Product
	if r.store != nil {
		var err error
		loaded, err = r.store.LoadProducts(ctx)
		if err != nil {
			return fmt.Errorf("erro ao carregar produtos: %w", err)
		}
	}

	r.mu.Lock()
	r.products = r.products[:0]
	for i := range loaded {
		p := loaded[i]
		if err := p.Validate(); err != nil {
			r.logger.Warn("Produto salvo inválido ignorado",
				logger.String("product_id", p.ID), logger.Error(err))
			continue
		}
		r.products = append(r.products, &p)
	}
	seeded := false
	if len(r.products) == 0 {
		seed := r.seed.Clone()
		if err := seed.Validate(); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("produto padrão inválido: %w", err)
		}
		r.products = append(r.products, &seed)
		seeded = true
	}
	count := len(r.products)
	r.mu.Unlock()

	r.logger.Info("Produtos carregados", logger.Int("count", count), logger.Bool("seeded", seeded))
	if seeded {
		return r.persist(ctx)
	}
	return nil
}

// Products retorna cópias de todos os produtos, na ordem de inserção
func (r *Registry) Products() []models.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Product, len(r.products))
	for i, p := range r.products {
		out[i] = p.Clone()
	}
	return out
}

// Product retorna uma cópia do produto
func (r *Registry) Product(id string) (models.Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p := r.find(id); p != nil {
		return p.Clone(), true
	}
	return models.Product{}, false
}

// Add adiciona um produto novo. Produtos sem variantes nunca são aceitos.
func (r *Registry) Add(ctx context.Context, p models.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	for _, existing := range r.products {
		if existing.ID == p.ID || existing.URL == p.URL {
			r.mu.Unlock()
			return ErrDuplicateProduct
		}
	}
	cp := p.Clone()
	r.products = append(r.products, &cp)
	r.mu.Unlock()

	return r.persist(ctx)
}

// UpdateSettings altera os campos editáveis de um produto
func (r *Registry) UpdateSettings(ctx context.Context, id string, s ProductSettings) error {
	r.mu.Lock()
	p := r.find(id)
	if p == nil {
		r.mu.Unlock()
		return ErrProductNotFound
	}
	updated := p.Clone()
	if s.Name != nil {
		updated.Name = *s.Name
	}
	if s.ImageURL != nil {
		updated.ImageURL = *s.ImageURL
	}
	if s.Interval != nil {
		updated.Interval = *s.Interval
	}
	if s.AutoStart != nil {
		updated.AutoStart = *s.AutoStart
	}
	if s.UserAgent != nil {
		updated.UserAgent = *s.UserAgent
	}
	if s.MaxRetries != nil {
		if *s.MaxRetries < 1 {
			r.mu.Unlock()
			return fmt.Errorf("número máximo de tentativas inválido: %d", *s.MaxRetries)
		}
		updated.MaxRetries = *s.MaxRetries
	}
	if err := updated.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	*p = updated
	r.mu.Unlock()

	return r.persist(ctx)
}

// Remove apaga o produto. Quem tem timers ativos deve usar Monitor.RemoveProduct.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.remove(id); err != nil {
		return err
	}
	return r.persist(ctx)
}

// AddVariant adiciona uma variante; retorna false (sem erro) se a URL já existir
func (r *Registry) AddVariant(ctx context.Context, productID string, v models.Variant) (bool, error) {
	if err := models.ValidateURL(models.CleanURL(v.URL)); err != nil {
		return false, err
	}
	r.mu.Lock()
	p := r.find(productID)
	if p == nil {
		r.mu.Unlock()
		return false, ErrProductNotFound
	}
	v.IsMonitoring = false
	added := p.AddVariant(v)
	r.mu.Unlock()

	if !added {
		return false, nil
	}
	return true, r.persist(ctx)
}

// RemoveVariant remove a variante. Quem tem timers ativos deve usar Monitor.RemoveVariant.
func (r *Registry) RemoveVariant(ctx context.Context, productID, variantID string) error {
	if err := r.removeVariant(productID, variantID); err != nil {
		return err
	}
	return r.persist(ctx)
}

// SetVariantInterval define o intervalo próprio da variante (0 = intervalo do produto)
func (r *Registry) SetVariantInterval(ctx context.Context, productID, variantID string, interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("intervalo inválido: %v", interval)
	}
	r.mu.Lock()
	_, v, err := r.locate(productID, variantID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	v.Interval = interval
	r.mu.Unlock()

	return r.persist(ctx)
}

func (r *Registry) remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.products {
		if p.ID == id {
			r.products = append(r.products[:i], r.products[i+1:]...)
			return nil
		}
	}
	return ErrProductNotFound
}

func (r *Registry) removeVariant(productID, variantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(productID)
	if p == nil {
		return ErrProductNotFound
	}
	return p.RemoveVariant(variantID)
}

// persist grava o snapshot completo. saveMu garante que os snapshots chegam ao
// Store na mesma ordem das mutações.
func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snapshot := r.Products()
	if err := r.store.SaveProducts(ctx, snapshot); err != nil {
		r.logger.Error("Erro ao salvar produtos", logger.Error(err))
		return fmt.Errorf("erro ao salvar produtos: %w", err)
	}
	return nil
}

func (r *Registry) find(id string) *models.Product {
	for _, p := range r.products {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Registry) locate(productID, variantID string) (*models.Product, *models.Variant, error) {
	p := r.find(productID)
	if p == nil {
		return nil, nil, ErrProductNotFound
	}
	v := p.Variant(variantID)
	if v == nil {
		return nil, nil, models.ErrVariantNotFound
	}
	return p, v, nil
}

// variantIDs lista as variantes do produto; onlyMonitoring filtra as ativas
func (r *Registry) variantIDs(productID string, onlyMonitoring bool) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.find(productID)
	if p == nil {
		return nil, ErrProductNotFound
	}
	ids := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		if onlyMonitoring && !v.IsMonitoring {
			continue
		}
		ids = append(ids, v.ID)
	}
	return ids, nil
}

// markStarted liga o monitoramento. started=false quando já estava ligado.
func (r *Registry) markStarted(productID, variantID string) (interval time.Duration, started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, v, err := r.locate(productID, variantID)
	if err != nil {
		return 0, false, err
	}
	if v.IsMonitoring {
		return p.IntervalFor(v), false, nil
	}
	v.IsMonitoring = true
	return p.IntervalFor(v), true, nil
}

// markStopped desliga o monitoramento; retorna true se estava ligado
func (r *Registry) markStopped(productID, variantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, v, err := r.locate(productID, variantID)
	if err != nil || !v.IsMonitoring {
		return false
	}
	v.IsMonitoring = false
	return true
}

// clearMonitoring zera a flag em memória sem gravar (usado na restauração)
func (r *Registry) clearMonitoring(productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.find(productID); p != nil {
		for i := range p.Variants {
			p.Variants[i].IsMonitoring = false
		}
	}
}

func (r *Registry) snapshot(productID, variantID string) (models.Product, models.Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, v, err := r.locate(productID, variantID)
	if err != nil {
		return models.Product{}, models.Variant{}, false
	}
	return p.Clone(), *v, true
}

// applyCheck é o único caminho que altera os contadores de uma variante
func (r *Registry) applyCheck(productID, variantID string, res CheckResult, policy IndeterminatePolicy, now time.Time) (outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, v, err := r.locate(productID, variantID)
	if err != nil {
		return outcome{}, false
	}
	return applyCheckResult(p, v, res, policy, now), true
}
