package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
	"stock-monitor/internal/monitor"
	"stock-monitor/internal/scraper"
)

const (
	defaultLogLines = 10
	maxLogLines     = 50
)

// Monitor são as operações do monitor usadas pelos comandos
type Monitor interface {
	AddProduct(ctx context.Context, p models.Product) error
	RemoveProduct(ctx context.Context, productID string) error
	StartMonitoring(ctx context.Context, productID string) error
	StopMonitoring(ctx context.Context, productID string) error
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	InstantCheck(ctx context.Context, productID, variantID string) error
	SetInterval(ctx context.Context, productID string, interval time.Duration) error
	SetVariantInterval(ctx context.Context, productID, variantID string, interval time.Duration) error
	AddVariant(ctx context.Context, productID string, v models.Variant) (bool, error)
	RemoveVariant(ctx context.Context, productID, variantID string) error
	Products() []models.Product
	Product(id string) (models.Product, bool)
	Events() []models.MonitorEvent
}

// Options configura o Handler
type Options struct {
	AuthorizedChatID int64 // 0 = qualquer chat
	DefaultInterval  time.Duration
	MaxRetries       int
}

// Handler interpreta os comandos recebidos pelo Telegram
type Handler struct {
	sender  Sender
	monitor Monitor
	fetcher scraper.Fetcher
	rotator *scraper.IdentityRotator
	opts    Options
	logger  logger.Logger
}

// NewHandler cria o Handler. fetcher e rotator são usados pelo /discover.
func NewHandler(sender Sender, mon Monitor, fetcher scraper.Fetcher, rotator *scraper.IdentityRotator, opts Options, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	if rotator == nil {
		rotator = scraper.NewIdentityRotator(nil)
	}
	return &Handler{
		sender:  sender,
		monitor: mon,
		fetcher: fetcher,
		rotator: rotator,
		opts:    opts,
		logger:  log,
	}
}

// Listen recebe atualizações do Telegram até ctx ser cancelado
func (h *Handler) Listen(ctx context.Context, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	h.Run(ctx, updates)
}

// Run processa as atualizações recebidas, uma por vez
func (h *Handler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.Handle(ctx, update)
		}
	}
}

// Handle processa uma atualização
func (h *Handler) Handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID

	// Extrair comando (remover @botname se presente e pegar apenas o comando)
	args := strings.Fields(update.Message.Text)
	if len(args) == 0 {
		return
	}
	command := strings.ToLower(args[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	args = args[1:]

	// /help e /start sem argumentos são públicos
	isPublicCommand := command == "/help" || (command == "/start" && len(args) == 0)
	if !isPublicCommand && h.opts.AuthorizedChatID != 0 && chatID != h.opts.AuthorizedChatID {
		h.reply(chatID, "Você não está autorizado a usar este bot.")
		return
	}

	h.logger.Debug("Comando recebido", logger.String("command", command), logger.Int("args", len(args)))

	switch command {
	case "/help":
		h.handleHelp(chatID)
	case "/start":
		if len(args) == 0 {
			h.handleHelp(chatID)
			return
		}
		h.handleStart(ctx, chatID, args)
	case "/add":
		h.handleAdd(ctx, chatID, args)
	case "/discover":
		h.handleDiscover(ctx, chatID, args)
	case "/addvariant":
		h.handleAddVariant(ctx, chatID, args)
	case "/rmvariant":
		h.handleRemoveVariant(ctx, chatID, args)
	case "/list":
		h.handleList(chatID)
	case "/remove":
		h.handleRemove(ctx, chatID, args)
	case "/check":
		h.handleCheck(ctx, chatID, args)
	case "/stop":
		h.handleStop(ctx, chatID, args)
	case "/startall":
		h.handleStartAll(ctx, chatID)
	case "/stopall":
		h.handleStopAll(ctx, chatID)
	case "/interval":
		h.handleInterval(ctx, chatID, args)
	case "/logs":
		h.handleLogs(chatID, args)
	default:
		h.reply(chatID, "Comando não reconhecido. Use /help para ver os comandos disponíveis.")
	}
}

func (h *Handler) handleHelp(chatID int64) {
	helpText := `🤖 <b>Bot de Monitoramento de Estoque</b>

<b>Comandos disponíveis:</b>

<b>/add &lt;URL&gt; [minutos]</b> - Monitorar um produto
Exemplo: /add https://www.popmart.com/us/products/1234 5

<b>/discover &lt;URL&gt; [minutos]</b> - Monitorar todas as variantes da página

<b>/addvariant &lt;produto&gt; &lt;URL&gt; [nome]</b> - Adicionar variante
<b>/rmvariant &lt;produto&gt; &lt;variante&gt;</b> - Remover variante

<b>/list</b> - Listar produtos monitorados
<b>/remove &lt;produto&gt;</b> - Remover produto
<b>/check &lt;produto&gt; [variante]</b> - Verificar agora

<b>/start &lt;produto&gt;</b> / <b>/stop &lt;produto&gt;</b> - Ligar ou desligar
<b>/startall</b> / <b>/stopall</b> - Ligar ou desligar tudo
<b>/interval &lt;produto&gt; &lt;minutos&gt; [variante]</b> - Alterar intervalo (0 na variante volta ao do produto)

<b>/logs [n]</b> - Últimos eventos

Produtos e variantes podem ser indicados pelo número mostrado em /list ou pelo ID.`

	h.replyHTML(chatID, helpText)
}

func (h *Handler) handleAdd(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /add <URL> [minutos]\n\nExemplo: /add https://www.popmart.com/us/products/1234 5")
		return
	}
	interval, err := h.intervalArg(args, 1)
	if err != nil {
		h.reply(chatID, "❌ "+err.Error())
		return
	}

	product, err := models.NewSingleVariantProduct(args[0], "", interval, h.opts.MaxRetries)
	if err != nil {
		h.reply(chatID, "❌ URL inválida. Use uma URL http(s) completa.")
		return
	}
	if !h.addAndStart(ctx, chatID, *product) {
		return
	}

	h.reply(chatID, fmt.Sprintf(
		"✅ Produto adicionado e monitorado!\n\nURL: %s\nIntervalo: %v\nID: %s",
		product.URL, product.Interval, product.ID,
	))
}

func (h *Handler) handleDiscover(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /discover <URL> [minutos]")
		return
	}
	interval, err := h.intervalArg(args, 1)
	if err != nil {
		h.reply(chatID, "❌ "+err.Error())
		return
	}
	rawURL := models.CleanURL(args[0])
	if err := models.ValidateURL(rawURL); err != nil {
		h.reply(chatID, "❌ URL inválida. Use uma URL http(s) completa.")
		return
	}

	resp, err := h.fetcher.Fetch(ctx, rawURL, h.rotator.Next(""))
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao buscar a página: %v", err))
		return
	}
	discovered := scraper.DiscoverVariants(resp.Body, rawURL)
	if len(discovered) == 0 {
		h.reply(chatID, "🔍 Nenhuma variante encontrada na página. Use /add para monitorar a URL diretamente.")
		return
	}

	product, err := models.NewMultiVariantProduct(rawURL, "", interval, h.opts.MaxRetries, discovered)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao criar produto: %v", err))
		return
	}
	if !h.addAndStart(ctx, chatID, *product) {
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ Produto adicionado com %d variante(s):\n\n", len(product.Variants)))
	for i, v := range product.Variants {
		b.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, v.DisplayName(), v.Kind))
	}
	b.WriteString(fmt.Sprintf("\nID: %s", product.ID))
	h.reply(chatID, b.String())
}

func (h *Handler) addAndStart(ctx context.Context, chatID int64, product models.Product) bool {
	if err := h.monitor.AddProduct(ctx, product); err != nil {
		if errors.Is(err, monitor.ErrDuplicateProduct) {
			h.reply(chatID, "❌ Este produto já está sendo monitorado.")
		} else {
			h.reply(chatID, fmt.Sprintf("❌ Erro ao adicionar produto: %v", err))
		}
		return false
	}
	if err := h.monitor.StartMonitoring(ctx, product.ID); err != nil {
		h.logger.Error("Erro ao iniciar monitoramento", logger.String("product_id", product.ID), logger.Error(err))
	}
	return true
}

func (h *Handler) handleAddVariant(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /addvariant <produto> <URL> [nome]")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	name := strings.Join(args[2:], " ")
	variant := models.NewVariant(models.KindNamed, name, args[1])
	if name == "" {
		variant.Kind = models.KindSingle
	}

	added, err := h.monitor.AddVariant(ctx, product.ID, variant)
	switch {
	case err != nil:
		h.reply(chatID, fmt.Sprintf("❌ Erro ao adicionar variante: %v", err))
	case !added:
		h.reply(chatID, "ℹ️ Essa URL já é uma variante deste produto.")
	default:
		h.reply(chatID, fmt.Sprintf("✅ Variante adicionada: %s\nUse /start %s para monitorar.", variant.DisplayName(), product.ID))
	}
}

func (h *Handler) handleRemoveVariant(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /rmvariant <produto> <variante>")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	variant, ok := resolveVariant(product, args[1])
	if !ok {
		h.reply(chatID, "❌ Variante não encontrada.")
		return
	}

	if err := h.monitor.RemoveVariant(ctx, product.ID, variant.ID); err != nil {
		if errors.Is(err, models.ErrLastVariant) {
			h.reply(chatID, "❌ Um produto precisa de pelo menos uma variante. Use /remove para remover o produto.")
			return
		}
		h.reply(chatID, fmt.Sprintf("❌ Erro ao remover variante: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ Variante removida: %s", variant.DisplayName()))
}

func (h *Handler) handleList(chatID int64) {
	products := h.monitor.Products()
	if len(products) == 0 {
		h.reply(chatID, "📋 Nenhum produto cadastrado no momento.")
		return
	}

	var response strings.Builder
	response.WriteString("📋 <b>Produtos:</b>\n\n")
	for i, p := range products {
		response.WriteString(formatProduct(i+1, p))
		response.WriteString("\n")
	}
	h.replyHTML(chatID, response.String())
}

func (h *Handler) handleRemove(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /remove <produto>\n\nExemplo: /remove 1")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	if err := h.monitor.RemoveProduct(ctx, product.ID); err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao remover produto: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ Produto removido: %s", displayProductName(product)))
}

func (h *Handler) handleCheck(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /check <produto> [variante]\n\nExemplo: /check 1")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	variantID := ""
	if len(args) > 1 {
		variant, ok := resolveVariant(product, args[1])
		if !ok {
			h.reply(chatID, "❌ Variante não encontrada.")
			return
		}
		variantID = variant.ID
	}

	// Enviar mensagem de "verificando"
	var sentMessageID int
	if sent, err := h.sender.Send(tgbotapi.NewMessage(chatID, "⏳ Verificando disponibilidade...")); err == nil {
		sentMessageID = sent.MessageID
	}

	var response string
	if err := h.monitor.InstantCheck(ctx, product.ID, variantID); err != nil {
		if errors.Is(err, monitor.ErrCheckInFlight) {
			response = "⏳ Já existe uma verificação em andamento. Tente novamente em instantes."
		} else {
			response = fmt.Sprintf("❌ Erro ao verificar: %v", escapeHTML(err.Error()))
		}
	} else if updated, ok := h.monitor.Product(product.ID); ok {
		response = "📊 " + formatProduct(0, updated)
	} else {
		response = "❌ Produto não encontrado."
	}

	// Tentar editar a mensagem de "verificando" se foi enviada
	if sentMessageID != 0 {
		editMsg := tgbotapi.NewEditMessageText(chatID, sentMessageID, response)
		editMsg.ParseMode = "HTML"
		_, err := h.sender.Send(editMsg)
		if err == nil {
			return
		}
		h.logger.Warn("Erro ao editar mensagem, enviando nova", logger.Error(err))
	}
	h.replyHTML(chatID, response)
}

func (h *Handler) handleStart(ctx context.Context, chatID int64, args []string) {
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	if err := h.monitor.StartMonitoring(ctx, product.ID); err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao iniciar monitoramento: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("▶️ Monitoramento iniciado: %s", displayProductName(product)))
}

func (h *Handler) handleStop(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /stop <produto>")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}
	if err := h.monitor.StopMonitoring(ctx, product.ID); err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao parar monitoramento: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("⏸ Monitoramento parado: %s", displayProductName(product)))
}

func (h *Handler) handleStartAll(ctx context.Context, chatID int64) {
	if err := h.monitor.StartAll(ctx); err != nil {
		h.reply(chatID, fmt.Sprintf("⚠️ Alguns produtos não foram iniciados: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("▶️ Monitoramento iniciado para %d produto(s).", len(h.monitor.Products())))
}

func (h *Handler) handleStopAll(ctx context.Context, chatID int64) {
	if err := h.monitor.StopAll(ctx); err != nil {
		h.reply(chatID, fmt.Sprintf("⚠️ Alguns produtos não foram parados: %v", err))
		return
	}
	h.reply(chatID, "⏸ Monitoramento parado para todos os produtos.")
}

func (h *Handler) handleInterval(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		h.reply(chatID, "❌ Formato incorreto.\n\nUso: /interval <produto> <minutos> [variante]\n\nExemplo: /interval 1 5")
		return
	}
	product, ok := h.product(chatID, args[0])
	if !ok {
		return
	}

	if len(args) > 2 {
		variant, ok := resolveVariant(product, args[2])
		if !ok {
			h.reply(chatID, "❌ Variante não encontrada.")
			return
		}
		var interval time.Duration
		if args[1] != "0" {
			d, err := parseMinutes(args[1])
			if err != nil {
				h.reply(chatID, "❌ "+err.Error())
				return
			}
			interval = d
		}
		if err := h.monitor.SetVariantInterval(ctx, product.ID, variant.ID, interval); err != nil {
			h.reply(chatID, fmt.Sprintf("❌ Erro ao alterar intervalo: %v", err))
			return
		}
		if interval == 0 {
			h.reply(chatID, fmt.Sprintf("⏱ %s volta a usar o intervalo do produto (%v)", variant.DisplayName(), product.Interval))
			return
		}
		h.reply(chatID, fmt.Sprintf("⏱ Intervalo de %s alterado para %v", variant.DisplayName(), interval))
		return
	}

	interval, err := parseMinutes(args[1])
	if err != nil {
		h.reply(chatID, "❌ "+err.Error())
		return
	}
	if err := h.monitor.SetInterval(ctx, product.ID, interval); err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Erro ao alterar intervalo: %v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("⏱ Intervalo de %s alterado para %v", displayProductName(product), interval))
}

func (h *Handler) handleLogs(chatID int64, args []string) {
	n := defaultLogLines
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			h.reply(chatID, "❌ Quantidade inválida.")
			return
		}
		n = v
	}
	if n > maxLogLines {
		n = maxLogLines
	}

	events := h.monitor.Events()
	if len(events) == 0 {
		h.reply(chatID, "📜 Nenhum evento registrado.")
		return
	}
	if len(events) > n {
		events = events[:n]
	}

	var b strings.Builder
	b.WriteString("📜 <b>Últimos eventos:</b>\n\n")
	for _, ev := range events {
		b.WriteString(fmt.Sprintf("%s %s <code>%s</code>", statusIcon(ev.Status), ev.Timestamp.Format("02/01 15:04:05"), ev.Status))
		if ev.ProductName != "" {
			b.WriteString(" " + escapeHTML(ev.ProductName))
		}
		b.WriteString("\n" + escapeHTML(ev.Message) + "\n\n")
	}
	h.replyHTML(chatID, b.String())
}

// product resolve a referência (número do /list ou ID) e responde se não encontrar
func (h *Handler) product(chatID int64, ref string) (models.Product, bool) {
	products := h.monitor.Products()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(products) {
		return products[n-1], true
	}
	if p, ok := h.monitor.Product(ref); ok {
		return p, true
	}
	h.reply(chatID, "❌ Produto não encontrado. Use /list para ver os produtos.")
	return models.Product{}, false
}

func resolveVariant(p models.Product, ref string) (models.Variant, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(p.Variants) {
		return p.Variants[n-1], true
	}
	if v := p.Variant(ref); v != nil {
		return *v, true
	}
	return models.Variant{}, false
}

func (h *Handler) intervalArg(args []string, idx int) (time.Duration, error) {
	if len(args) <= idx {
		return h.opts.DefaultInterval, nil
	}
	return parseMinutes(args[idx])
}

func parseMinutes(s string) (time.Duration, error) {
	minutes, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("intervalo inválido: use um número de minutos maior que zero")
	}
	return time.Duration(minutes * float64(time.Minute)).Round(time.Second), nil
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Error("Erro ao enviar mensagem", logger.Error(err))
	}
}

func (h *Handler) replyHTML(chatID int64, text string) {
	if err := sendHTML(h.sender, tgbotapi.NewMessage(chatID, text), h.logger); err != nil {
		h.logger.Error("Erro ao enviar mensagem sem formatação", logger.Error(err))
	}
}

// formatProduct monta o bloco de um produto; position 0 omite o número
func formatProduct(position int, p models.Product) string {
	var b strings.Builder
	if position > 0 {
		b.WriteString(fmt.Sprintf("🆔 <b>%d</b> <code>%s</code>\n", position, p.ID))
	}
	b.WriteString(fmt.Sprintf("📦 <b>%s</b>\n", escapeHTML(displayProductName(p))))
	b.WriteString(fmt.Sprintf("⏱ Intervalo: %v\n", p.Interval))

	var lastChecked time.Time
	for i, v := range p.Variants {
		state := "⏸"
		if v.IsMonitoring {
			state = "▶️"
		}
		line := fmt.Sprintf("%s %s %d. %s", availabilityIcon(v), state, i+1, escapeHTML(v.DisplayName()))
		if v.Interval > 0 {
			line += fmt.Sprintf(" | a cada %v", v.Interval)
		}
		if v.Price != "" {
			line += " | " + escapeHTML(v.Price)
		}
		if v.Stock != nil {
			line += fmt.Sprintf(" | estoque %d", *v.Stock)
		}
		line += fmt.Sprintf(" | %d/%d ok", v.SuccessfulChecks, v.TotalChecks)
		if v.ErrorCount > 0 {
			line += fmt.Sprintf(", %d erro(s)", v.ErrorCount)
		}
		b.WriteString(line + "\n")
		if v.LastChecked.After(lastChecked) {
			lastChecked = v.LastChecked
		}
	}

	if !lastChecked.IsZero() {
		b.WriteString(fmt.Sprintf("🕐 Última verificação: %s\n", lastChecked.Format("02/01/2006 15:04")))
	} else {
		b.WriteString("🕐 Última verificação: Nunca\n")
	}
	b.WriteString(fmt.Sprintf("🔗 %s\n", escapeHTML(p.URL)))
	return b.String()
}

func displayProductName(p models.Product) string {
	if p.Name != "" {
		return p.Name
	}
	if primary := p.Primary(); primary != nil && primary.Name != "" {
		return primary.Name
	}
	return p.URL
}

func availabilityIcon(v models.Variant) string {
	switch {
	case v.TotalChecks == 0:
		return "⚪"
	case v.IsAvailable:
		return "🟢"
	default:
		return "🔴"
	}
}

func statusIcon(s models.EventStatus) string {
	switch s {
	case models.StatusAvailabilityChanged:
		return "🔔"
	case models.StatusSuccess, models.StatusInstantCheck:
		return "✅"
	case models.StatusAntiBot:
		return "🛡"
	case models.StatusNetworkError, models.StatusError:
		return "❌"
	case models.StatusAutoPaused:
		return "⏸"
	default:
		return "ℹ️"
	}
}
