package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-monitor/internal/models"
	"stock-monitor/internal/scraper"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	m        *Monitor
	store    *memStore
	fetcher  *fakeFetcher
	cls      *staticClassifier
	notifier *recordingNotifier
}

func newHarness(t *testing.T, products ...models.Product) *harness {
	t.Helper()
	h := &harness{
		store:    &memStore{products: cloneProducts(products)},
		fetcher:  newFakeFetcher(),
		cls:      &staticClassifier{},
		notifier: &recordingNotifier{},
	}
	h.cls.set(scraper.Unavailable)

	log := testLogger(t)
	registry := NewRegistry(h.store, testSeed(), log)
	events := NewEventLog(DefaultEventLimit, h.store, log)
	h.m = New(registry, h.fetcher, h.cls, events, h.notifier, Options{
		Policy:  KeepPrior,
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Logger:  log,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.m.Shutdown(ctx)
	})

	require.NoError(t, h.m.Restore(context.Background()))
	return h
}

func product(t *testing.T, rawURL string, interval time.Duration) models.Product {
	t.Helper()
	p, err := models.NewSingleVariantProduct(rawURL, "", interval, 3)
	require.NoError(t, err)
	return *p
}

func (h *harness) variant(t *testing.T, productID string) models.Variant {
	t.Helper()
	p, ok := h.m.Product(productID)
	require.True(t, ok)
	return p.Variants[0]
}

func (h *harness) idle() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return len(h.m.inflight) == 0
}

func hasEvent(events []models.MonitorEvent, status models.EventStatus) bool {
	for _, ev := range events {
		if ev.Status == status {
			return true
		}
	}
	return false
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) == 1 }, waitFor, tick)

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	assert.Equal(t, 1, h.m.ActiveTimers())
	assert.Never(t, func() bool { return h.fetcher.count(p.URL) > 1 }, 100*time.Millisecond, tick)
	assert.True(t, h.variant(t, p.ID).IsMonitoring)
}

func TestMonitor_StopTwice(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	require.NoError(t, h.m.StopMonitoring(ctx, p.ID))
	require.NoError(t, h.m.StopMonitoring(ctx, p.ID))

	assert.Equal(t, 0, h.m.ActiveTimers())
	assert.False(t, h.variant(t, p.ID).IsMonitoring)

	saved := h.store.saved()
	require.Len(t, saved, 1)
	assert.False(t, saved[0].Variants[0].IsMonitoring)
}

func TestMonitor_RestoreArmsExactlyOneTimer(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	p.Variants[0].IsMonitoring = true
	idle := product(t, "https://shop.example.com/b", time.Hour)

	h := newHarness(t, p, idle)

	assert.Equal(t, 1, h.m.ActiveTimers())
	assert.True(t, h.m.IsActive(p.ID, p.Variants[0].ID))
	assert.True(t, h.variant(t, p.ID).IsMonitoring)
	assert.False(t, h.m.IsActive(idle.ID, idle.Variants[0].ID))

	require.NoError(t, h.m.StartMonitoring(context.Background(), p.ID))
	assert.Equal(t, 1, h.m.ActiveTimers())
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) == 1 }, waitFor, tick)
}

func TestMonitor_RestoreHonorsAutoStart(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	p.AutoStart = true

	h := newHarness(t, p)

	assert.True(t, h.m.IsActive(p.ID, p.Variants[0].ID))
	assert.True(t, hasEvent(h.m.Events(), models.StatusInfo))
}

func TestMonitor_RestoreSeedsEmptyStore(t *testing.T) {
	h := newHarness(t)

	products := h.m.Products()
	require.Len(t, products, 1)
	assert.Equal(t, models.SeedProductID, products[0].ID)
	assert.Equal(t, 0, h.m.ActiveTimers())
}

func TestMonitor_IndependentIntervals(t *testing.T) {
	fast := product(t, "https://shop.example.com/fast", 20*time.Millisecond)
	slow := product(t, "https://shop.example.com/slow", time.Hour)
	h := newHarness(t, fast, slow)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, fast.ID))
	require.NoError(t, h.m.StartMonitoring(ctx, slow.ID))

	require.Eventually(t, func() bool { return h.fetcher.count(fast.URL) >= 4 }, waitFor, tick)
	assert.Equal(t, 1, h.fetcher.count(slow.URL))
}

func TestMonitor_VariantsHaveIndependentTimers(t *testing.T) {
	p, err := models.NewMultiVariantProduct("https://shop.example.com/set", "Set", 20*time.Millisecond, 3, []models.DiscoveredVariant{
		{Kind: models.KindWholeSet, Name: "Whole set", URL: "https://shop.example.com/set?v=whole"},
		{Kind: models.KindRandom, Name: "Single box", URL: "https://shop.example.com/set?v=box"},
	})
	require.NoError(t, err)
	h := newHarness(t, *p)
	ctx := context.Background()
	whole, box := p.Variants[0], p.Variants[1]

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	assert.Equal(t, 2, h.m.ActiveTimers())

	require.NoError(t, h.m.StopVariant(ctx, p.ID, box.ID))
	assert.True(t, h.m.IsActive(p.ID, whole.ID))
	assert.False(t, h.m.IsActive(p.ID, box.ID))

	require.Eventually(t, func() bool { return h.fetcher.count(whole.URL) >= 3 }, waitFor, tick)
	require.Eventually(t, h.idle, waitFor, tick)
	stopped := h.fetcher.count(box.URL)
	assert.Never(t, func() bool { return h.fetcher.count(box.URL) > stopped }, 100*time.Millisecond, tick)

	assert.ErrorIs(t, h.m.StopVariant(ctx, p.ID, "missing"), models.ErrVariantNotFound)
}

func TestMonitor_VariantIntervalOverride(t *testing.T) {
	p, err := models.NewMultiVariantProduct("https://shop.example.com/set", "Set", time.Hour, 3, []models.DiscoveredVariant{
		{Kind: models.KindWholeSet, Name: "Whole set", URL: "https://shop.example.com/set?v=whole"},
		{Kind: models.KindRandom, Name: "Single box", URL: "https://shop.example.com/set?v=box"},
	})
	require.NoError(t, err)
	h := newHarness(t, *p)
	ctx := context.Background()
	whole, box := p.Variants[0], p.Variants[1]

	require.NoError(t, h.m.SetVariantInterval(ctx, p.ID, box.ID, 20*time.Millisecond))
	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))

	require.Eventually(t, func() bool { return h.fetcher.count(box.URL) >= 4 }, waitFor, tick)
	assert.Equal(t, 1, h.fetcher.count(whole.URL))

	saved, ok := h.m.Product(p.ID)
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, saved.Variant(box.ID).Interval)
	assert.Zero(t, saved.Variant(whole.ID).Interval)

	assert.ErrorIs(t, h.m.SetVariantInterval(ctx, p.ID, box.ID, -time.Second), ErrInvalidInterval)
	assert.ErrorIs(t, h.m.SetVariantInterval(ctx, p.ID, "missing", time.Second), models.ErrVariantNotFound)
	assert.ErrorIs(t, h.m.SetVariantInterval(ctx, "missing", box.ID, time.Second), ErrProductNotFound)

	// Volta ao intervalo do produto com o timer religado
	require.NoError(t, h.m.SetVariantInterval(ctx, p.ID, box.ID, 0))
	assert.True(t, h.m.IsActive(p.ID, box.ID))
	require.Eventually(t, h.idle, waitFor, tick)
	after := h.fetcher.count(box.URL)
	assert.Never(t, func() bool { return h.fetcher.count(box.URL) > after+1 }, 100*time.Millisecond, tick)
}

func TestMonitor_InstantCheckCreatesNoTimer(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	h.cls.set(scraper.Available)

	require.NoError(t, h.m.InstantCheck(context.Background(), p.ID, ""))

	assert.Equal(t, 0, h.m.ActiveTimers())
	v := h.variant(t, p.ID)
	assert.False(t, v.IsMonitoring)
	assert.Equal(t, 1, v.TotalChecks)
	assert.True(t, v.IsAvailable)
	assert.Equal(t, 1, h.notifier.count())
	assert.True(t, hasEvent(h.m.Events(), models.StatusInstantCheck))
}

func TestMonitor_InstantCheckWhileInFlight(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()
	gate, started := h.fetcher.hold()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	<-started

	err := h.m.InstantCheck(ctx, p.ID, p.Variants[0].ID)
	assert.ErrorIs(t, err, ErrCheckInFlight)

	close(gate)
	require.Eventually(t, h.idle, waitFor, tick)
	assert.Equal(t, 1, h.variant(t, p.ID).TotalChecks)
}

func TestMonitor_TickSkippedWhileCheckInFlight(t *testing.T) {
	p := product(t, "https://shop.example.com/a", 10*time.Millisecond)
	h := newHarness(t, p)
	ctx := context.Background()
	gate, started := h.fetcher.hold()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	<-started

	// Vários ticks passam com a primeira busca presa
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.fetcher.count(p.URL))

	close(gate)
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) >= 2 }, waitFor, tick)
	require.NoError(t, h.m.StopMonitoring(ctx, p.ID))
	require.Eventually(t, h.idle, waitFor, tick)

	v := h.variant(t, p.ID)
	assert.Positive(t, v.TotalChecks)
	assert.Equal(t, v.TotalChecks, v.SuccessfulChecks)
	assert.Zero(t, v.ErrorCount)
}

func TestMonitor_ResultDiscardedAfterStop(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()
	gate, started := h.fetcher.hold()
	h.cls.set(scraper.Available)

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	<-started
	require.NoError(t, h.m.StopMonitoring(ctx, p.ID))

	close(gate)
	require.Eventually(t, h.idle, waitFor, tick)

	v := h.variant(t, p.ID)
	assert.Equal(t, 0, v.TotalChecks)
	assert.False(t, v.IsAvailable)
	assert.Equal(t, 0, h.notifier.count())
}

func TestMonitor_AutoPause(t *testing.T) {
	p := product(t, "https://shop.example.com/a", 15*time.Millisecond)
	p.MaxRetries = 3
	h := newHarness(t, p)
	h.fetcher.fail(&scraper.FetchError{Kind: scraper.FailureNotConnected, URL: p.URL, Err: errors.New("refused")})

	require.NoError(t, h.m.StartMonitoring(context.Background(), p.ID))

	require.Eventually(t, func() bool { return h.m.ActiveTimers() == 0 }, waitFor, tick)
	require.Eventually(t, h.idle, waitFor, tick)

	v := h.variant(t, p.ID)
	assert.False(t, v.IsMonitoring)
	assert.Equal(t, 3, v.ErrorCount)
	assert.Equal(t, 3, v.TotalChecks)
	assert.Zero(t, v.SuccessfulChecks)
	assert.False(t, v.IsAvailable)
	assert.Equal(t, 3, h.fetcher.count(p.URL))

	paused := 0
	for _, ev := range h.m.Events() {
		if ev.Status == models.StatusAutoPaused {
			paused++
		}
	}
	assert.Equal(t, 1, paused)
	assert.False(t, h.store.saved()[0].Variants[0].IsMonitoring)
}

func TestMonitor_NotifiesOncePerRisingEdge(t *testing.T) {
	p := product(t, "https://shop.example.com/a", 15*time.Millisecond)
	h := newHarness(t, p)
	h.cls.set(scraper.Available)

	require.NoError(t, h.m.StartMonitoring(context.Background(), p.ID))

	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) >= 4 }, waitFor, tick)
	assert.Equal(t, 1, h.notifier.count())

	h.cls.set(scraper.Unavailable)
	require.Eventually(t, func() bool { return !h.variant(t, p.ID).IsAvailable }, waitFor, tick)
	h.cls.set(scraper.Available)
	require.Eventually(t, func() bool { return h.notifier.count() == 2 }, waitFor, tick)
}

func TestMonitor_SetIntervalRestartsActiveTimers(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) == 1 }, waitFor, tick)

	require.NoError(t, h.m.SetInterval(ctx, p.ID, 15*time.Millisecond))

	got, _ := h.m.Product(p.ID)
	assert.Equal(t, 15*time.Millisecond, got.Interval)
	assert.Equal(t, 1, h.m.ActiveTimers())
	assert.True(t, got.Variants[0].IsMonitoring)
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) >= 4 }, waitFor, tick)

	assert.ErrorIs(t, h.m.SetInterval(ctx, p.ID, 0), ErrInvalidInterval)
}

func TestMonitor_SetIntervalOnIdleProduct(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)

	require.NoError(t, h.m.SetInterval(context.Background(), p.ID, 2*time.Minute))

	got, _ := h.m.Product(p.ID)
	assert.Equal(t, 2*time.Minute, got.Interval)
	assert.Equal(t, 0, h.m.ActiveTimers())
	assert.Equal(t, 2*time.Minute, h.store.saved()[0].Interval)
}

func TestMonitor_RemoveProductStopsTimers(t *testing.T) {
	p := product(t, "https://shop.example.com/a", 15*time.Millisecond)
	h := newHarness(t, p)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	require.Eventually(t, func() bool { return h.fetcher.count(p.URL) >= 2 }, waitFor, tick)

	require.NoError(t, h.m.RemoveProduct(ctx, p.ID))
	require.Eventually(t, h.idle, waitFor, tick)

	assert.Equal(t, 0, h.m.ActiveTimers())
	_, ok := h.m.Product(p.ID)
	assert.False(t, ok)
	calls := h.fetcher.count(p.URL)
	assert.Never(t, func() bool { return h.fetcher.count(p.URL) > calls }, 100*time.Millisecond, tick)
	assert.Empty(t, h.store.saved())

	assert.ErrorIs(t, h.m.RemoveProduct(ctx, p.ID), ErrProductNotFound)
}

func TestMonitor_AddAndRemoveVariant(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	v := models.NewVariant(models.KindNamed, "Blue", "https://shop.example.com/a?c=blue")
	added, err := h.m.AddVariant(ctx, p.ID, v)
	require.NoError(t, err)
	require.True(t, added)
	assert.False(t, h.m.IsActive(p.ID, v.ID), "new variants start idle")

	added, err = h.m.AddVariant(ctx, p.ID, v)
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, h.m.StartVariant(ctx, p.ID, v.ID))
	assert.True(t, h.m.IsActive(p.ID, v.ID))

	require.NoError(t, h.m.RemoveVariant(ctx, p.ID, v.ID))
	assert.False(t, h.m.IsActive(p.ID, v.ID))
	got, _ := h.m.Product(p.ID)
	assert.Len(t, got.Variants, 1)

	assert.ErrorIs(t, h.m.RemoveVariant(ctx, p.ID, p.Variants[0].ID), models.ErrLastVariant)
}

func TestMonitor_AddVariantWithTakenID(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	v := models.NewVariant(models.KindNamed, "Blue", "https://shop.example.com/a?c=blue")
	v.ID = p.Variants[0].ID
	added, err := h.m.AddVariant(ctx, p.ID, v)
	require.NoError(t, err)
	require.True(t, added)

	got, _ := h.m.Product(p.ID)
	require.Len(t, got.Variants, 2)
	assert.NotEqual(t, p.Variants[0].ID, got.Variants[1].ID)
	assert.NoError(t, got.Validate())
	assert.NoError(t, h.store.saved()[0].Validate())
	assert.Equal(t, got.Variants[1].ID, h.m.Events()[0].VariantID)
}

func TestMonitor_StartAllStopAll(t *testing.T) {
	a := product(t, "https://shop.example.com/a", time.Hour)
	b := product(t, "https://shop.example.com/b", time.Hour)
	h := newHarness(t, a, b)
	ctx := context.Background()

	require.NoError(t, h.m.StartAll(ctx))
	assert.Equal(t, 2, h.m.ActiveTimers())

	require.NoError(t, h.m.StopAll(ctx))
	assert.Equal(t, 0, h.m.ActiveTimers())
	for _, p := range h.m.Products() {
		assert.False(t, p.IsMonitoring())
	}
}

func TestMonitor_UpdateProduct(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)

	name := "Renamed"
	interval := 10 * time.Minute
	require.NoError(t, h.m.UpdateProduct(context.Background(), p.ID, ProductSettings{Name: &name, Interval: &interval}))

	got, _ := h.m.Product(p.ID)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, interval, got.Interval)
}

func TestMonitor_ShutdownKeepsIntent(t *testing.T) {
	p := product(t, "https://shop.example.com/a", time.Hour)
	h := newHarness(t, p)
	ctx := context.Background()

	require.NoError(t, h.m.StartMonitoring(ctx, p.ID))
	require.NoError(t, h.m.Shutdown(ctx))

	assert.Equal(t, 0, h.m.ActiveTimers())
	assert.True(t, h.store.saved()[0].Variants[0].IsMonitoring)
	assert.ErrorIs(t, h.m.StartMonitoring(ctx, p.ID), ErrMonitorClosed)
	assert.ErrorIs(t, h.m.InstantCheck(ctx, p.ID, ""), ErrMonitorClosed)
	assert.NoError(t, h.m.Shutdown(ctx))
}
