package monitor

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
	"stock-monitor/internal/scraper"
)

// memStore guarda os snapshots em memória
type memStore struct {
	mu           sync.Mutex
	products     []models.Product
	events       []models.MonitorEvent
	productSaves int
	saveErr      error
}

func (s *memStore) SaveProducts(_ context.Context, products []models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.products = cloneProducts(products)
	s.productSaves++
	return nil
}

func (s *memStore) LoadProducts(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProducts(s.products), nil
}

func (s *memStore) SaveEvents(_ context.Context, events []models.MonitorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append([]models.MonitorEvent(nil), events...)
	return nil
}

func (s *memStore) LoadEvents(_ context.Context) ([]models.MonitorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MonitorEvent(nil), s.events...), nil
}

func (s *memStore) saved() []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProducts(s.products)
}

func (s *memStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.productSaves
}

func cloneProducts(in []models.Product) []models.Product {
	out := make([]models.Product, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// fakeFetcher conta chamadas por URL e pode segurar a resposta até release
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	status  int
	err     error
	gate    chan struct{}
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), status: 200}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, _ scraper.Identity) (*scraper.Response, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	gate, started, status, err := f.gate, f.started, f.status, f.err
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- rawURL:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &scraper.FetchError{Kind: scraper.FailureTimeout, URL: rawURL, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return &scraper.Response{Body: "<html></html>", StatusCode: status}, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) hold() (gate chan struct{}, started chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.started = make(chan string, 16)
	return f.gate, f.started
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// staticClassifier devolve sempre o mesmo veredito, trocável durante o teste
type staticClassifier struct {
	mu sync.Mutex
	v  scraper.Verdict
}

func (c *staticClassifier) For(string) scraper.Classifier { return c }

func (c *staticClassifier) Classify(string, int) scraper.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *staticClassifier) set(a scraper.Availability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = scraper.Verdict{Availability: a, Marker: "fake"}
}

// recordingNotifier guarda as variantes notificadas
type recordingNotifier struct {
	mu       sync.Mutex
	variants []string
}

func (n *recordingNotifier) NotifyAvailable(_ context.Context, _ models.Product, v models.Variant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.variants = append(n.variants, v.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.variants)
}

func testLogger(t *testing.T) logger.Logger {
	return logger.Wrap(zaptest.NewLogger(t))
}
