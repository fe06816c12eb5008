package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
)

// Sender é a parte do tgbotapi.BotAPI usada para enviar mensagens
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Init inicializa o bot do Telegram
func Init(token string, log logger.Logger) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN não configurado. Verifique o arquivo .env")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, fmt.Errorf("token do Telegram inválido ou expirado. Verifique o TELEGRAM_BOT_TOKEN no arquivo .env. Para obter um token, fale com @BotFather no Telegram")
		}
		return nil, fmt.Errorf("erro ao conectar com Telegram: %w", err)
	}

	bot.Debug = false
	log.Info("Bot autorizado", logger.String("username", bot.Self.UserName))
	return bot, nil
}

// TelegramNotifier envia o aviso de disponibilidade para o chat configurado
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger logger.Logger
}

// NewTelegramNotifier cria o notificador
func NewTelegramNotifier(sender Sender, chatID int64, log logger.Logger) *TelegramNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: log}
}

// NotifyAvailable implementa monitor.Notifier
func (n *TelegramNotifier) NotifyAvailable(_ context.Context, product models.Product, variant models.Variant) error {
	if n.chatID == 0 {
		n.logger.Warn("TELEGRAM_CHAT_ID não configurado, notificação apenas no log",
			logger.String("product_id", product.ID), logger.String("variant_id", variant.ID))
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, formatAvailable(product, variant))
	return sendHTML(n.sender, msg, n.logger)
}

func formatAvailable(p models.Product, v models.Variant) string {
	var b strings.Builder
	b.WriteString("🟢 <b>Produto disponível!</b>\n\n")
	name := p.Name
	if name == "" {
		name = v.Name
	}
	if name != "" {
		b.WriteString(fmt.Sprintf("📦 %s\n", escapeHTML(name)))
	}
	if len(p.Variants) > 1 {
		b.WriteString(fmt.Sprintf("🏷 Variante: %s\n", escapeHTML(v.DisplayName())))
	}
	if v.Price != "" {
		b.WriteString(fmt.Sprintf("💰 <b>%s</b>\n", escapeHTML(v.Price)))
	}
	if v.Stock != nil {
		b.WriteString(fmt.Sprintf("📊 Estoque: %d\n", *v.Stock))
	}
	b.WriteString(fmt.Sprintf("🔗 %s", escapeHTML(v.URL)))
	return b.String()
}

// sendHTML envia com formatação HTML e, se o Telegram recusar, sem formatação
func sendHTML(sender Sender, msg tgbotapi.MessageConfig, log logger.Logger) error {
	msg.ParseMode = "HTML"
	if _, err := sender.Send(msg); err != nil {
		log.Warn("Erro ao enviar mensagem com HTML, tentando sem formatação", logger.Error(err))
		msg.ParseMode = ""
		msg.Text = stripHTML(msg.Text)
		if _, err2 := sender.Send(msg); err2 != nil {
			return fmt.Errorf("erro ao enviar mensagem: %w", err2)
		}
	}
	return nil
}

// escapeHTML escapa caracteres especiais do HTML
func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

var htmlTags = strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "", "<code>", "", "</code>", "")

func stripHTML(text string) string {
	text = htmlTags.Replace(text)
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.ReplaceAll(text, "&amp;", "&")
}
