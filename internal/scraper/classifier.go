package scraper

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Availability é o veredito do classificador
type Availability int

const (
	Indeterminate Availability = iota
	Available
	Unavailable
	AntiBotBlocked
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	case AntiBotBlocked:
		return "anti_bot_blocked"
	default:
		return "indeterminate"
	}
}

// Verdict é o resultado da classificação, com os campos extraídos (todos opcionais)
type Verdict struct {
	Availability Availability
	Marker       string // marcador que decidiu o veredito
	Name         string
	Price        string
	ImageURL     string
	SKU          string
	Stock        *int
}

// Classifier decide a disponibilidade a partir do HTML e do status HTTP
type Classifier interface {
	Classify(body string, statusCode int) Verdict
}

var blockMarkers = []string{
	"access denied",
	"access to this page has been denied",
	"attention required! | cloudflare",
	"cf-browser-verification",
	"cf-chl-bypass",
	"px-captcha",
	"pardon our interruption",
	"request unsuccessful. incapsula",
	"verify you are human",
	"are you a robot",
}

var unavailableMarkers = []string{
	"out of stock",
	"not in stock",
	"sold out",
	"soldout",
	"currently unavailable",
	"notify me when available",
	"schema.org/outofstock",
	"缺货",
	"售罄",
	"已售完",
	"暂时无货",
	"品切れ",
	"在庫切れ",
	"esgotado",
	"indisponível",
	"agotado",
	"ausverkauft",
	"rupture de stock",
	"épuisé",
}

var availableMarkers = []string{
	"add to cart",
	"add to bag",
	"buy now",
	"in stock",
	"schema.org/instock",
	"加入购物车",
	"立即购买",
	"有货",
	"カートに入れる",
	"comprar agora",
	"adicionar ao carrinho",
	"añadir al carrito",
	"in den warenkorb",
	"ajouter au panier",
}

var stockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)only\s+(\d+)\s+left`),
	regexp.MustCompile(`(?i)(\d+)\s+in\s+stock`),
	regexp.MustCompile(`(?i)(\d+)\s+disponíve(?:l|is)`),
}

// Selectors são os seletores e marcadores extras de um site específico
type Selectors struct {
	Name                 []string
	Price                []string
	Image                []string
	AvailableSelectors   []string
	UnavailableSelectors []string
	AvailableMarkers     []string
	UnavailableMarkers   []string
}

// HTMLClassifier é o classificador heurístico baseado em marcadores de texto
type HTMLClassifier struct {
	selectors   Selectors
	unavailable []string
	available   []string
}

// NewHTMLClassifier cria um classificador com os marcadores padrão mais os do site
func NewHTMLClassifier(s Selectors) *HTMLClassifier {
	c := &HTMLClassifier{selectors: s}
	c.unavailable = append(append(c.unavailable, unavailableMarkers...), lower(s.UnavailableMarkers)...)
	c.available = append(append(c.available, availableMarkers...), lower(s.AvailableMarkers)...)
	return c
}

// Classify aplica as regras em ordem; a primeira que casar decide
func (c *HTMLClassifier) Classify(body string, statusCode int) Verdict {
	lowered := strings.ToLower(body)

	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return Verdict{Availability: AntiBotBlocked, Marker: "status " + strconv.Itoa(statusCode)}
	}
	if m := firstMarker(lowered, blockMarkers); m != "" {
		return Verdict{Availability: AntiBotBlocked, Marker: m}
	}

	// Falha no parse não é fatal: os marcadores de texto continuam valendo
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(body))
	v := Verdict{}
	if doc != nil {
		c.extract(doc, &v)
	}
	if v.Stock == nil {
		v.Stock = extractStock(body)
	}

	if statusCode == http.StatusNotFound || statusCode == http.StatusGone {
		v.Availability = Unavailable
		v.Marker = "status " + strconv.Itoa(statusCode)
		return v
	}

	if m := firstMarker(lowered, c.unavailable); m != "" {
		v.Availability = Unavailable
		v.Marker = m
		return v
	}
	if sel := firstSelector(doc, c.selectors.UnavailableSelectors); sel != "" {
		v.Availability = Unavailable
		v.Marker = sel
		return v
	}

	if m := firstMarker(lowered, c.available); m != "" {
		v.Availability = Available
		v.Marker = m
		return v
	}
	if sel := firstSelector(doc, c.selectors.AvailableSelectors); sel != "" {
		v.Availability = Available
		v.Marker = sel
		return v
	}

	v.Availability = Indeterminate
	return v
}

// extract preenche nome, preço, imagem e SKU. Ordem: dados estruturados, títulos, classes.
func (c *HTMLClassifier) extract(doc *goquery.Document, v *Verdict) {
	if ld := findProductLD(doc); ld != nil {
		v.Name = ld.Name
		v.ImageURL = ld.Image
		v.SKU = ld.SKU
		v.Price = ld.Price
		v.Stock = ld.Stock
	}

	if v.Name == "" {
		v.Name = metaContent(doc, "meta[property='og:title']")
	}
	if v.Name == "" {
		v.Name = firstText(doc, append([]string{"h1"}, c.selectors.Name...))
	}
	if v.Name == "" {
		v.Name = firstText(doc, []string{"[class*='product-title']", "[class*='product-name']", "[class*='title']"})
	}

	if v.Price == "" {
		v.Price = metaContent(doc, "meta[property='product:price:amount']")
	}
	if v.Price == "" {
		v.Price = metaContent(doc, "[itemprop='price']")
	}
	if v.Price == "" {
		v.Price = firstText(doc, append(append([]string{}, c.selectors.Price...), "[class*='price']"))
	}

	if v.ImageURL == "" {
		v.ImageURL = metaContent(doc, "meta[property='og:image']")
	}
	if v.ImageURL == "" {
		for _, sel := range append(append([]string{}, c.selectors.Image...), "[class*='product'] img") {
			if src, ok := doc.Find(sel).First().Attr("src"); ok && src != "" {
				v.ImageURL = src
				break
			}
		}
	}
}

type productLD struct {
	Name  string
	Image string
	SKU   string
	Price string
	Stock *int
}

// findProductLD procura um nó "Product" nos blocos JSON-LD da página
func findProductLD(doc *goquery.Document) *productLD {
	var found *productLD
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(i int, s *goquery.Selection) bool {
		var raw interface{}
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if node := findLDNode(raw, "Product"); node != nil {
			found = productFromLD(node)
			return false
		}
		return true
	})
	return found
}

func findLDNode(raw interface{}, typ string) map[string]interface{} {
	switch n := raw.(type) {
	case []interface{}:
		for _, item := range n {
			if node := findLDNode(item, typ); node != nil {
				return node
			}
		}
	case map[string]interface{}:
		if ldType(n["@type"]) == typ {
			return n
		}
		if graph, ok := n["@graph"]; ok {
			return findLDNode(graph, typ)
		}
	}
	return nil
}

func ldType(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			s, _ := t[0].(string)
			return s
		}
	}
	return ""
}

func productFromLD(node map[string]interface{}) *productLD {
	p := &productLD{
		Name: ldString(node["name"]),
		SKU:  ldString(node["sku"]),
	}
	switch img := node["image"].(type) {
	case string:
		p.Image = img
	case []interface{}:
		if len(img) > 0 {
			p.Image = ldString(img[0])
		}
	case map[string]interface{}:
		p.Image = ldString(img["url"])
	}

	offer := node["offers"]
	if list, ok := offer.([]interface{}); ok && len(list) > 0 {
		offer = list[0]
	}
	if o, ok := offer.(map[string]interface{}); ok {
		price := ldString(o["price"])
		if price == "" {
			price = ldString(o["lowPrice"])
		}
		if price != "" {
			if cur := ldString(o["priceCurrency"]); cur != "" {
				price = cur + " " + price
			}
		}
		p.Price = price
		if inv, ok := o["inventoryLevel"].(map[string]interface{}); ok {
			if n, err := strconv.Atoi(ldString(inv["value"])); err == nil {
				p.Stock = &n
			}
		}
	}
	return p
}

func ldString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func extractStock(body string) *int {
	for _, re := range stockPatterns {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}
	return ""
}

func firstSelector(doc *goquery.Document, selectors []string) string {
	if doc == nil {
		return ""
	}
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return ""
}

func firstMarker(lowered string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(lowered, m) {
			return m
		}
	}
	return ""
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
