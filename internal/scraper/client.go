package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"stock-monitor/internal/models"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodySize    = 10 << 20
	defaultBurst   = 2
)

// FailureKind classifica falhas de busca
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureNotConnected FailureKind = "not_connected"
	FailureOther        FailureKind = "network"
	FailureInvalidURL   FailureKind = "invalid_url"
)

// FetchError é a falha tipada retornada pelo Fetcher
type FetchError struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s ao buscar %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFailure verifica se err é um FetchError do tipo informado
func IsFailure(err error, kind FailureKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Response é o resultado de uma busca bem-sucedida no nível de transporte
type Response struct {
	Body       string
	StatusCode int
	Latency    time.Duration
}

// Fetcher busca o HTML de uma página
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, id Identity) (*Response, error)
}

// Client implementa Fetcher sobre net/http com limite de taxa por host
type Client struct {
	client *http.Client
	rps    rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient cria um cliente HTTP. rps <= 0 desativa o limite por host.
func NewClient(timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		client:   &http.Client{Timeout: timeout},
		rps:      limit,
		burst:    defaultBurst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch faz o GET com a identidade informada
func (c *Client) Fetch(ctx context.Context, rawURL string, id Identity) (*Response, error) {
	cleanURL := models.CleanURL(rawURL)
	if err := models.ValidateURL(cleanURL); err != nil {
		return nil, &FetchError{Kind: FailureInvalidURL, URL: rawURL, Err: err}
	}
	u, _ := url.Parse(cleanURL)

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &FetchError{Kind: FailureOther, URL: cleanURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cleanURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FailureInvalidURL, URL: cleanURL, Err: err}
	}
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", id.AcceptLanguage)
	for _, cookie := range id.Cookies {
		req.AddCookie(cookie)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyNetError(err), URL: cleanURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	latency := time.Since(start)
	if err != nil {
		return nil, &FetchError{Kind: classifyNetError(err), URL: cleanURL, Err: fmt.Errorf("erro ao ler resposta: %w", err)}
	}

	// Erros do servidor entram na contagem de erros como falha de rede
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &FetchError{Kind: FailureOther, URL: cleanURL, Err: fmt.Errorf("status code: %d", resp.StatusCode)}
	}

	return &Response{Body: string(body), StatusCode: resp.StatusCode, Latency: latency}, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[host] = l
	}
	return l
}

func classifyNetError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureNotConnected
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ECONNRESET) {
		return FailureNotConnected
	}
	return FailureOther
}
