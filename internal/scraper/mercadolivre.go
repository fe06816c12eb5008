package scraper

import "strings"

// MercadoLivreProfile contém os seletores das páginas de produto do Mercado Livre
type MercadoLivreProfile struct{}

// NewMercadoLivreProfile cria o perfil do Mercado Livre
func NewMercadoLivreProfile() *MercadoLivreProfile {
	return &MercadoLivreProfile{}
}

func (m *MercadoLivreProfile) Name() string { return "mercadolivre" }

// CanHandle verifica se a URL é do Mercado Livre
func (m *MercadoLivreProfile) CanHandle(url string) bool {
	return strings.Contains(url, "mercadolivre.com.br") || strings.Contains(url, "mercadolibre.com")
}

func (m *MercadoLivreProfile) Selectors() Selectors {
	return Selectors{
		Name: []string{
			"h1.ui-pdp-title",
			"h1[data-testid='title']",
			".ui-pdp-title",
		},
		// O preço promocional aparece na segunda linha
		Price: []string{
			".ui-pdp-price__second-line .andes-money-amount__fraction",
			".ui-pdp-price--size-large .andes-money-amount__fraction",
			"[data-testid='price'] .andes-money-amount__fraction",
			".andes-money-amount__fraction",
		},
		Image: []string{
			"figure.ui-pdp-gallery__figure img",
			".ui-pdp-image",
		},
		AvailableSelectors: []string{
			".ui-pdp-actions__container button[formaction]",
			".ui-pdp-buybox__quantity",
		},
		UnavailableSelectors: []string{
			".ui-pdp-message--warning .ui-pdp-message__text",
			".ui-pdp-stock-information__title--unavailable",
		},
		AvailableMarkers:   []string{"comprar agora", "adicionar ao carrinho", "estoque disponível"},
		UnavailableMarkers: []string{"anúncio pausado", "sem estoque", "este produto está indisponível"},
	}
}
