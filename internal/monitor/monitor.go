package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
	"stock-monitor/internal/scraper"
)

var (
	ErrCheckInFlight   = errors.New("verificação já em andamento para esta variante")
	ErrMonitorClosed   = errors.New("monitor encerrado")
	ErrInvalidInterval = errors.New("intervalo inválido")
)

// Options configura o Monitor
type Options struct {
	Policy         IndeterminatePolicy
	StartJitter    time.Duration // atraso aleatório máximo ao iniciar vários produtos
	IntervalSettle time.Duration // pausa entre parar e religar ao mudar o intervalo
	Rotator        *scraper.IdentityRotator
	Metrics        *Metrics
	Logger         logger.Logger
}

type variantKey struct {
	productID string
	variantID string
}

// task é o timer de uma variante
type task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
}

// Monitor gerencia um timer independente por variante monitorada
type Monitor struct {
	registry    *Registry
	fetcher     scraper.Fetcher
	classifiers ClassifierSource
	rotator     *scraper.IdentityRotator
	notifier    Notifier
	events      *EventLog
	metrics     *Metrics
	logger      logger.Logger

	policy IndeterminatePolicy
	jitter time.Duration
	settle time.Duration

	// ctx vive enquanto o monitor viver; as buscas usam ele, não o ctx do timer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu protege timers e inflight. Ordem de locks: Monitor.mu -> Registry.mu.
	mu       sync.Mutex
	timers   map[variantKey]*task
	inflight map[variantKey]struct{}
	closed   bool
}

// New cria uma nova instância do monitor
func New(registry *Registry, fetcher scraper.Fetcher, classifiers ClassifierSource, events *EventLog, notifier Notifier, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Rotator == nil {
		opts.Rotator = scraper.NewIdentityRotator(nil)
	}
	if opts.Policy == "" {
		opts.Policy = KeepPrior
	}
	if events == nil {
		events = NewEventLog(DefaultEventLimit, nil, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		registry:    registry,
		fetcher:     fetcher,
		classifiers: classifiers,
		rotator:     opts.Rotator,
		notifier:    notifier,
		events:      events,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		policy:      opts.Policy,
		jitter:      opts.StartJitter,
		settle:      opts.IntervalSettle,
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[variantKey]*task),
		inflight:    make(map[variantKey]struct{}),
	}
}

// Restore carrega o registro e religa o que estava sendo monitorado.
// A flag salva descreve a intenção, não um timer vivo: ela é zerada em memória
// antes de religar, senão a guarda "já ativo" de startLocked ignoraria a variante.
func (m *Monitor) Restore(ctx context.Context) error {
	if err := m.registry.Load(ctx); err != nil {
		return err
	}
	if err := m.events.Load(ctx); err != nil {
		m.logger.Warn("Log de eventos anterior não carregado", logger.Error(err))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMonitorClosed
	}
	restored := 0
	for _, p := range m.registry.Products() {
		var toStart []string
		for _, v := range p.Variants {
			if v.IsMonitoring || p.AutoStart {
				toStart = append(toStart, v.ID)
			}
		}
		if len(toStart) == 0 {
			continue
		}
		m.registry.clearMonitoring(p.ID)
		for _, variantID := range toStart {
			started, err := m.startLocked(variantKey{p.ID, variantID}, m.randomJitter())
			if err != nil {
				m.logger.Error("Erro ao restaurar monitoramento", logger.String("product_id", p.ID), logger.Error(err))
				continue
			}
			if started {
				restored++
			}
		}
	}
	m.mu.Unlock()

	m.logger.Info("Monitoramento restaurado", logger.Int("variants", restored))
	if restored > 0 {
		m.events.Append(ctx, models.NewEvent(nil, "", models.StatusInfo, fmt.Sprintf("Monitoramento restaurado para %d variante(s)", restored)))
	}
	return m.registry.persist(ctx)
}

// StartMonitoring liga todas as variantes do produto que ainda não estão ativas
func (m *Monitor) StartMonitoring(ctx context.Context, productID string) error {
	return m.startVariants(ctx, productID, nil, 0)
}

// StartVariant liga uma única variante
func (m *Monitor) StartVariant(ctx context.Context, productID, variantID string) error {
	return m.startVariants(ctx, productID, []string{variantID}, 0)
}

// StopMonitoring desliga todas as variantes do produto
func (m *Monitor) StopMonitoring(ctx context.Context, productID string) error {
	return m.stopVariants(ctx, productID, nil)
}

// StopVariant desliga uma única variante
func (m *Monitor) StopVariant(ctx context.Context, productID, variantID string) error {
	if _, _, ok := m.registry.snapshot(productID, variantID); !ok {
		if _, exists := m.registry.Product(productID); !exists {
			return ErrProductNotFound
		}
		return models.ErrVariantNotFound
	}
	return m.stopVariants(ctx, productID, []string{variantID})
}

// StartAll liga todos os produtos, com atraso aleatório por variante para não
// disparar todas as requisições ao mesmo tempo
func (m *Monitor) StartAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.registry.Products() {
		if err := m.startVariants(ctx, p.ID, nil, -1); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll desliga todos os produtos
func (m *Monitor) StopAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.registry.Products() {
		if err := m.stopVariants(ctx, p.ID, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startVariants liga as variantes indicadas (nil = todas). delay < 0 sorteia o jitter.
func (m *Monitor) startVariants(ctx context.Context, productID string, variantIDs []string, delay time.Duration) error {
	if variantIDs == nil {
		ids, err := m.registry.variantIDs(productID, false)
		if err != nil {
			return err
		}
		variantIDs = ids
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMonitorClosed
	}
	var started []string
	var errs []error
	for _, variantID := range variantIDs {
		d := delay
		if d < 0 {
			d = m.randomJitter()
		}
		ok, err := m.startLocked(variantKey{productID, variantID}, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			started = append(started, variantID)
		}
	}
	m.mu.Unlock()

	if len(started) > 0 {
		p, _ := m.registry.Product(productID)
		events := make([]models.MonitorEvent, 0, len(started))
		for _, variantID := range started {
			events = append(events, models.NewEvent(&p, variantID, models.StatusInfo, "Monitoramento iniciado"))
		}
		m.events.Append(ctx, events...)
		if err := m.registry.persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) stopVariants(ctx context.Context, productID string, variantIDs []string) error {
	if variantIDs == nil {
		ids, err := m.registry.variantIDs(productID, false)
		if err != nil {
			return err
		}
		variantIDs = ids
	}

	m.mu.Lock()
	var stopped []string
	var tasks []*task
	for _, variantID := range variantIDs {
		key := variantKey{productID, variantID}
		changed := m.registry.markStopped(productID, variantID)
		if t := m.disarmLocked(key); t != nil {
			tasks = append(tasks, t)
		}
		if changed {
			stopped = append(stopped, variantID)
		}
	}
	m.mu.Unlock()

	waitTasks(tasks)

	if len(stopped) == 0 {
		return nil
	}
	p, _ := m.registry.Product(productID)
	events := make([]models.MonitorEvent, 0, len(stopped))
	for _, variantID := range stopped {
		events = append(events, models.NewEvent(&p, variantID, models.StatusInfo, "Monitoramento parado"))
	}
	m.events.Append(ctx, events...)
	return m.registry.persist(ctx)
}

// startLocked é a transição Idle -> Active. Não faz nada se a variante já está ativa.
func (m *Monitor) startLocked(key variantKey, delay time.Duration) (bool, error) {
	interval, started, err := m.registry.markStarted(key.productID, key.variantID)
	if err != nil {
		return false, err
	}
	if !started {
		return false, nil
	}
	if _, armed := m.timers[key]; armed {
		return false, nil
	}
	m.armLocked(key, interval, delay)
	return true, nil
}

func (m *Monitor) armLocked(key variantKey, interval time.Duration, delay time.Duration) {
	ctx, cancel := context.WithCancel(m.ctx)
	t := &task{cancel: cancel, done: make(chan struct{}), interval: interval}
	m.timers[key] = t
	m.metrics.setActiveTimers(len(m.timers))

	m.wg.Add(1)
	go m.loop(ctx, key, t, delay)
}

// disarmLocked cancela o timer (sem mexer na flag). Buscas em andamento não são
// canceladas; o resultado delas é descartado em apply.
func (m *Monitor) disarmLocked(key variantKey) *task {
	t, ok := m.timers[key]
	if !ok {
		return nil
	}
	delete(m.timers, key)
	t.cancel()
	m.metrics.setActiveTimers(len(m.timers))
	return t
}

func waitTasks(tasks []*task) {
	for _, t := range tasks {
		<-t.done
	}
}

// loop faz a verificação imediata (após o atraso) e depois uma a cada intervalo
func (m *Monitor) loop(ctx context.Context, key variantKey, t *task, delay time.Duration) {
	defer m.wg.Done()
	defer close(t.done)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	m.dispatch(key, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dispatch(key, t)
		}
	}
}

// dispatch dispara a verificação em background. Se a anterior ainda não
// terminou, o tick é ignorado (nunca enfileirado).
func (m *Monitor) dispatch(key variantKey, t *task) {
	if !m.acquire(key) {
		m.logger.Debug("Verificação anterior em andamento, tick ignorado",
			logger.String("product_id", key.productID), logger.String("variant_id", key.variantID))
		return
	}
	go func() {
		defer m.wg.Done()
		defer m.release(key)
		m.check(m.ctx, key, t)
	}()
}

// acquire reserva a vaga de verificação da variante e conta no wg;
// quem recebe true deve chamar release e wg.Done
func (m *Monitor) acquire(key variantKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if _, busy := m.inflight[key]; busy {
		return false
	}
	m.inflight[key] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *Monitor) release(key variantKey) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

// InstantCheck verifica agora, sem mexer na flag nem no ritmo do timer.
// variantID vazio verifica todas as variantes do produto, uma por vez.
func (m *Monitor) InstantCheck(ctx context.Context, productID, variantID string) error {
	var variantIDs []string
	if variantID == "" {
		ids, err := m.registry.variantIDs(productID, false)
		if err != nil {
			return err
		}
		variantIDs = ids
	} else {
		if _, _, ok := m.registry.snapshot(productID, variantID); !ok {
			return fmt.Errorf("%w: %s", models.ErrVariantNotFound, variantID)
		}
		variantIDs = []string{variantID}
	}

	var errs []error
	for _, id := range variantIDs {
		key := variantKey{productID, id}
		if !m.acquire(key) {
			if m.isClosed() {
				return ErrMonitorClosed
			}
			errs = append(errs, fmt.Errorf("%w (%s)", ErrCheckInFlight, id))
			continue
		}
		func() {
			defer m.wg.Done()
			defer m.release(key)
			if p, _, ok := m.registry.snapshot(productID, id); ok {
				m.events.Append(ctx, models.NewEvent(&p, id, models.StatusInstantCheck, "Verificação manual"))
			}
			m.check(ctx, key, nil)
		}()
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// check busca, classifica e aplica. t == nil indica verificação manual.
func (m *Monitor) check(ctx context.Context, key variantKey, t *task) {
	p, v, ok := m.registry.snapshot(key.productID, key.variantID)
	if !ok {
		return
	}

	id := m.rotator.Next(p.UserAgent)
	resp, err := m.fetcher.Fetch(ctx, v.URL, id)
	if ctx.Err() != nil || m.ctx.Err() != nil {
		// Busca cancelada ou monitor encerrando: não conta como falha
		return
	}

	res := CheckResult{Err: err}
	if err == nil {
		res.HTTPStatus = resp.StatusCode
		res.Latency = resp.Latency
		res.Verdict = m.classifiers.For(v.URL).Classify(resp.Body, resp.StatusCode)
	}
	m.apply(ctx, key, t, res)
}

func (m *Monitor) apply(ctx context.Context, key variantKey, t *task, res CheckResult) {
	m.mu.Lock()
	if t != nil && m.timers[key] != t {
		// Variante parada (ou religada) enquanto a busca estava em andamento
		m.mu.Unlock()
		m.metrics.observeLatency(res.Latency)
		m.logger.Debug("Resultado descartado: variante não está mais ativa",
			logger.String("product_id", key.productID), logger.String("variant_id", key.variantID))
		return
	}
	out, ok := m.registry.applyCheck(key.productID, key.variantID, res, m.policy, time.Now())
	if !ok {
		m.mu.Unlock()
		return
	}
	if out.autoPaused {
		// O timer termina sozinho; não esperamos por ele aqui
		m.disarmLocked(key)
	}
	m.mu.Unlock()

	m.metrics.observe(out, res)
	m.events.Append(ctx, out.events...)

	if out.becameAvailable && m.notifier != nil {
		if err := m.notifier.NotifyAvailable(ctx, out.product, out.variant); err != nil {
			m.logger.Error("Erro ao enviar notificação",
				logger.String("product_id", key.productID), logger.Error(err))
		}
	}

	if err := m.registry.persist(ctx); err != nil {
		m.logger.Warn("Resultado aplicado mas não gravado", logger.Error(err))
	}
}

// SetInterval muda o intervalo. Se houver variantes ativas, os timers são
// parados, aguarda-se um breve intervalo e eles são religados com o novo período.
func (m *Monitor) SetInterval(ctx context.Context, productID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	active, err := m.registry.variantIDs(productID, true)
	if err != nil {
		return err
	}

	return m.restart(ctx, productID, active, func() error {
		if err := m.registry.UpdateSettings(ctx, productID, ProductSettings{Interval: &interval}); err != nil {
			return err
		}
		p, _ := m.registry.Product(productID)
		m.events.Append(ctx, models.NewEvent(&p, "", models.StatusInfo, fmt.Sprintf("Intervalo alterado para %v", interval)))
		return nil
	})
}

// SetVariantInterval dá à variante um intervalo próprio; 0 volta a usar o do produto
func (m *Monitor) SetVariantInterval(ctx context.Context, productID, variantID string, interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	_, v, ok := m.registry.snapshot(productID, variantID)
	if !ok {
		if _, exists := m.registry.Product(productID); !exists {
			return ErrProductNotFound
		}
		return models.ErrVariantNotFound
	}
	var active []string
	if v.IsMonitoring {
		active = []string{variantID}
	}

	return m.restart(ctx, productID, active, func() error {
		if err := m.registry.SetVariantInterval(ctx, productID, variantID, interval); err != nil {
			return err
		}
		p, _ := m.registry.Product(productID)
		m.events.Append(ctx, models.NewEvent(&p, variantID, models.StatusInfo,
			fmt.Sprintf("[%s] Intervalo alterado para %v", v.DisplayName(), p.IntervalFor(p.Variant(variantID)))))
		return nil
	})
}

// restart para as variantes ativas, espera o intervalo de acomodação, aplica
// update e religa as variantes, mesmo se update falhar
func (m *Monitor) restart(ctx context.Context, productID string, active []string, update func() error) error {
	if len(active) == 0 {
		return update()
	}
	if err := m.stopVariants(ctx, productID, active); err != nil {
		return err
	}
	if m.settle > 0 {
		timer := time.NewTimer(m.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	updateErr := update()
	// O religamento não deve depender do ctx de quem pediu a mudança
	startErr := m.startVariants(context.WithoutCancel(ctx), productID, active, 0)
	return errors.Join(updateErr, startErr)
}

// AddProduct adiciona um produto ao registro
func (m *Monitor) AddProduct(ctx context.Context, p models.Product) error {
	if err := m.registry.Add(ctx, p); err != nil {
		return err
	}
	m.events.Append(ctx, models.NewEvent(&p, "", models.StatusInfo, "Produto adicionado"))
	return nil
}

// UpdateProduct altera as configurações; mudança de intervalo passa por SetInterval
func (m *Monitor) UpdateProduct(ctx context.Context, productID string, s ProductSettings) error {
	if s.Interval != nil {
		current, ok := m.registry.Product(productID)
		if !ok {
			return ErrProductNotFound
		}
		if *s.Interval != current.Interval {
			if err := m.SetInterval(ctx, productID, *s.Interval); err != nil {
				return err
			}
		}
		s.Interval = nil
	}
	return m.registry.UpdateSettings(ctx, productID, s)
}

// RemoveProduct para todos os timers do produto e depois o remove
func (m *Monitor) RemoveProduct(ctx context.Context, productID string) error {
	ids, err := m.registry.variantIDs(productID, false)
	if err != nil {
		return err
	}
	p, _ := m.registry.Product(productID)

	m.mu.Lock()
	var tasks []*task
	for _, variantID := range ids {
		m.registry.markStopped(productID, variantID)
		if t := m.disarmLocked(variantKey{productID, variantID}); t != nil {
			tasks = append(tasks, t)
		}
	}
	err = m.registry.remove(productID)
	m.mu.Unlock()

	waitTasks(tasks)
	if err != nil {
		return err
	}
	m.events.Append(ctx, models.NewEvent(&p, "", models.StatusInfo, "Produto removido"))
	return m.registry.persist(ctx)
}

// AddVariant adiciona uma variante ociosa; false se a URL já existir no produto
func (m *Monitor) AddVariant(ctx context.Context, productID string, v models.Variant) (bool, error) {
	added, err := m.registry.AddVariant(ctx, productID, v)
	if err != nil || !added {
		return added, err
	}
	p, _ := m.registry.Product(productID)
	cleaned := models.CleanURL(v.URL)
	for _, added := range p.Variants {
		if added.URL == cleaned {
			m.events.Append(ctx, models.NewEvent(&p, added.ID, models.StatusInfo, "Variante adicionada: "+added.DisplayName()))
			break
		}
	}
	return true, nil
}

// RemoveVariant para o timer da variante e a remove do produto
func (m *Monitor) RemoveVariant(ctx context.Context, productID, variantID string) error {
	key := variantKey{productID, variantID}

	m.mu.Lock()
	if _, _, ok := m.registry.snapshot(productID, variantID); !ok {
		m.mu.Unlock()
		return models.ErrVariantNotFound
	}
	ids, _ := m.registry.variantIDs(productID, false)
	if len(ids) == 1 {
		m.mu.Unlock()
		return models.ErrLastVariant
	}
	m.registry.markStopped(productID, variantID)
	t := m.disarmLocked(key)
	err := m.registry.removeVariant(productID, variantID)
	m.mu.Unlock()

	if t != nil {
		waitTasks([]*task{t})
	}
	if err != nil {
		return err
	}
	return m.registry.persist(ctx)
}

// Products retorna cópias de todos os produtos
func (m *Monitor) Products() []models.Product {
	return m.registry.Products()
}

// Product retorna uma cópia do produto
func (m *Monitor) Product(id string) (models.Product, bool) {
	return m.registry.Product(id)
}

// Events retorna o log, mais recentes primeiro
func (m *Monitor) Events() []models.MonitorEvent {
	return m.events.Entries()
}

// ActiveTimers retorna quantos timers estão armados
func (m *Monitor) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// IsActive indica se a variante tem um timer armado
func (m *Monitor) IsActive(productID, variantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[variantKey{productID, variantID}]
	return ok
}

// Shutdown para todos os timers sem apagar a intenção salva (as flags continuam
// ligadas para a próxima Restore) e espera as verificações em andamento.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for key := range m.timers {
		m.disarmLocked(key)
	}
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Monitor encerrado")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor não encerrou a tempo: %w", ctx.Err())
	}
}

func (m *Monitor) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Monitor) randomJitter() time.Duration {
	if m.jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(m.jitter)))
}
