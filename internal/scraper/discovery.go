package scraper

import (
	"encoding/json"
	"net/url"
	"strings"

	"stock-monitor/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// DiscoverVariants lê as opções de compra da página do produto.
// Fontes: JSON-LD (hasVariant / offers com url), <option data-url> e [data-variant-url].
func DiscoverVariants(body, baseURL string) []models.DiscoveredVariant {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(baseURL)

	var out []models.DiscoveredVariant
	seen := make(map[string]struct{})
	add := func(d models.DiscoveredVariant) {
		d.URL = resolveURL(base, d.URL)
		d.Name = strings.Join(strings.Fields(d.Name), " ")
		if d.URL == "" || models.ValidateURL(d.URL) != nil {
			return
		}
		if _, dup := seen[d.URL]; dup {
			return
		}
		seen[d.URL] = struct{}{}
		out = append(out, d)
	}

	doc.Find("script[type='application/ld+json']").Each(func(i int, s *goquery.Selection) {
		var raw interface{}
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return
		}
		for _, d := range variantsFromLD(raw) {
			add(d)
		}
	})

	doc.Find("option[data-url], [data-variant-url]").Each(func(i int, s *goquery.Selection) {
		href := s.AttrOr("data-url", "")
		if href == "" {
			href = s.AttrOr("data-variant-url", "")
		}
		name := s.AttrOr("data-variant-name", "")
		if name == "" {
			name = s.Text()
		}
		add(models.DiscoveredVariant{
			Kind:     models.ParseVariantKind(s.AttrOr("data-variant-kind", "")),
			Name:     name,
			URL:      href,
			SKU:      s.AttrOr("data-sku", ""),
			ImageURL: s.AttrOr("data-image", ""),
		})
	})

	return out
}

func variantsFromLD(raw interface{}) []models.DiscoveredVariant {
	group := findLDNode(raw, "ProductGroup")
	if group == nil {
		group = findLDNode(raw, "Product")
	}
	if group == nil {
		return nil
	}

	var out []models.DiscoveredVariant
	if variants, ok := group["hasVariant"].([]interface{}); ok {
		for _, item := range variants {
			node, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ld := productFromLD(node)
			href := ldString(node["url"])
			if href == "" {
				href = offerURL(node["offers"])
			}
			out = append(out, models.DiscoveredVariant{
				Kind:     models.KindNamed,
				Name:     ld.Name,
				URL:      href,
				SKU:      ld.SKU,
				ImageURL: ld.Image,
				Price:    ld.Price,
			})
		}
		return out
	}

	// Produto simples com várias ofertas, cada uma com a própria URL
	if offers, ok := group["offers"].([]interface{}); ok {
		for _, item := range offers {
			node, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out = append(out, models.DiscoveredVariant{
				Kind:  models.KindNamed,
				Name:  ldString(node["name"]),
				URL:   ldString(node["url"]),
				SKU:   ldString(node["sku"]),
				Price: ldString(node["price"]),
			})
		}
	}
	return out
}

func offerURL(offer interface{}) string {
	if list, ok := offer.([]interface{}); ok && len(list) > 0 {
		offer = list[0]
	}
	if o, ok := offer.(map[string]interface{}); ok {
		return ldString(o["url"])
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return models.CleanURL(ref.String())
}
