package scraper

import (
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Identity é a "cara" de uma requisição: User-Agent, idioma e cookies de região
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Cookies        []*http.Cookie
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var defaultAcceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en;q=0.9,en-US;q=0.8",
}

// IdentityRotator sorteia uma identidade nova a cada requisição
type IdentityRotator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	userAgents []string
	languages  []string
	cookies    []*http.Cookie
}

// NewIdentityRotator cria um rotator com os pools padrão e os cookies de região informados
func NewIdentityRotator(regionCookies []*http.Cookie) *IdentityRotator {
	return &IdentityRotator{
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		userAgents: defaultUserAgents,
		languages:  defaultAcceptLanguages,
		cookies:    regionCookies,
	}
}

// Next retorna uma identidade. Se override não for vazio, ele é usado como User-Agent.
func (r *IdentityRotator) Next(override string) Identity {
	r.mu.Lock()
	ua := r.userAgents[r.rnd.Intn(len(r.userAgents))]
	lang := r.languages[r.rnd.Intn(len(r.languages))]
	r.mu.Unlock()

	if override != "" {
		ua = override
	}

	cookies := make([]*http.Cookie, len(r.cookies))
	for i, c := range r.cookies {
		cp := *c
		cookies[i] = &cp
	}
	return Identity{UserAgent: ua, AcceptLanguage: lang, Cookies: cookies}
}
