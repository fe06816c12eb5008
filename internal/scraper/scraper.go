package scraper

import "sync"

// Profile define os seletores de uma loja específica
type Profile interface {
	Name() string
	CanHandle(url string) bool
	Selectors() Selectors
}

// Registry mantém os perfis de loja e entrega o classificador certo para cada URL
type Registry struct {
	profiles []Profile
	generic  *HTMLClassifier

	mu    sync.Mutex
	cache map[string]*HTMLClassifier
}

// NewRegistry cria um novo registro com os perfis conhecidos
func NewRegistry(profiles ...Profile) *Registry {
	if len(profiles) == 0 {
		profiles = []Profile{
			NewMercadoLivreProfile(),
			NewPopMartProfile(),
		}
	}
	return &Registry{
		profiles: profiles,
		generic:  NewHTMLClassifier(Selectors{}),
		cache:    make(map[string]*HTMLClassifier),
	}
}

// FindProfile encontra o perfil apropriado para uma URL (nil se nenhum)
func (r *Registry) FindProfile(url string) Profile {
	for _, p := range r.profiles {
		if p.CanHandle(url) {
			return p
		}
	}
	return nil
}

// For retorna o classificador da loja, ou o genérico se nenhum perfil servir
func (r *Registry) For(url string) Classifier {
	p := r.FindProfile(url)
	if p == nil {
		return r.generic
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[p.Name()]
	if !ok {
		c = NewHTMLClassifier(p.Selectors())
		r.cache[p.Name()] = c
	}
	return c
}
