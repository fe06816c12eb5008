package scraper

import "strings"

// PopMartProfile cobre as páginas de blind box da Pop Mart
type PopMartProfile struct{}

func NewPopMartProfile() *PopMartProfile {
	return &PopMartProfile{}
}

func (p *PopMartProfile) Name() string { return "popmart" }

func (p *PopMartProfile) CanHandle(url string) bool {
	return strings.Contains(url, "popmart.com")
}

func (p *PopMartProfile) Selectors() Selectors {
	return Selectors{
		Name:  []string{"[class*='index_title']", "[class*='productName']"},
		Price: []string{"[class*='index_price']"},
		Image: []string{"[class*='index_productImage'] img", "[class*='swiper-slide'] img"},
		AvailableSelectors: []string{
			"[class*='index_usBtn']",
			"[class*='addToCart']",
		},
		UnavailableSelectors: []string{
			"[class*='index_disabledBtn']",
			"[class*='soldOut']",
		},
		AvailableMarkers:   []string{"pick one to shake", "buy multiple boxes"},
		UnavailableMarkers: []string{"coming soon"},
	}
}
