package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Valores padrão
const (
	DefaultDatabasePath      = "./monitor.db"
	DefaultCheckInterval     = 60 * time.Second
	DefaultMaxRetries        = 3
	DefaultFetchTimeout      = 30 * time.Second
	DefaultHostRateLimit     = 1.0
	DefaultStartJitter       = 3 * time.Second
	DefaultIntervalSettle    = 500 * time.Millisecond
	DefaultIndeterminate     = "keep_prior"
	DefaultRegionCookies     = "locale=en-US;region=US;currency=USD"
	DefaultSeedProductURL    = "https://www.popmart.com/us/products/1149/THE-MONSTERS-Big-into-Energy-Series-Vinyl-Plush-Pendant-Blind-Box"
	DefaultSeedProductName   = "THE MONSTERS Big into Energy Series"
	DefaultLogLevel          = "info"
	minimumCheckInterval     = 5 * time.Second
	validIndeterminatePolicy = "keep_prior,assume_available,assume_unavailable"
)

// Config contém as configurações da aplicação
type Config struct {
	TelegramBotToken    string
	TelegramChatID      int64
	DatabasePath        string
	CheckInterval       time.Duration
	MaxRetries          int
	FetchTimeout        time.Duration
	HostRateLimit       float64
	StartJitter         time.Duration
	IntervalSettle      time.Duration
	IndeterminatePolicy string
	RegionCookies       []*http.Cookie
	SeedProductURL      string
	SeedProductName     string
	LogLevel            string
	MetricsAddr         string
}

// TelegramEnabled indica se o bot do Telegram deve ser iniciado
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// Load carrega as configurações das variáveis de ambiente
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:        getEnv("DATABASE_PATH", DefaultDatabasePath),
		CheckInterval:       DefaultCheckInterval,
		MaxRetries:          DefaultMaxRetries,
		FetchTimeout:        DefaultFetchTimeout,
		HostRateLimit:       DefaultHostRateLimit,
		StartJitter:         DefaultStartJitter,
		IntervalSettle:      DefaultIntervalSettle,
		IndeterminatePolicy: strings.ToLower(getEnv("INDETERMINATE_POLICY", DefaultIndeterminate)),
		SeedProductURL:      getEnv("SEED_PRODUCT_URL", DefaultSeedProductURL),
		SeedProductName:     getEnv("SEED_PRODUCT_NAME", DefaultSeedProductName),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
	}

	// Chat ID é opcional (usado para restringir comandos e enviar alertas)
	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID inválido: %w", err)
		}
		cfg.TelegramChatID = chatID
	}

	if v := os.Getenv("CHECK_INTERVAL_SECONDS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("CHECK_INTERVAL_SECONDS inválido: %q", v)
		}
		cfg.CheckInterval = time.Duration(parsed) * time.Second
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("MAX_RETRIES inválido: %q", v)
		}
		cfg.MaxRetries = parsed
	}

	if v := os.Getenv("FETCH_TIMEOUT_SECONDS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("FETCH_TIMEOUT_SECONDS inválido: %q", v)
		}
		cfg.FetchTimeout = time.Duration(parsed) * time.Second
	}

	if v := os.Getenv("HOST_RATE_LIMIT"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("HOST_RATE_LIMIT inválido: %q", v)
		}
		cfg.HostRateLimit = parsed
	}

	if v := os.Getenv("START_JITTER_MS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("START_JITTER_MS inválido: %q", v)
		}
		cfg.StartJitter = time.Duration(parsed) * time.Millisecond
	}

	if v := os.Getenv("INTERVAL_SETTLE_MS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("INTERVAL_SETTLE_MS inválido: %q", v)
		}
		cfg.IntervalSettle = time.Duration(parsed) * time.Millisecond
	}

	cookies, err := ParseCookies(getEnv("REGION_COOKIES", DefaultRegionCookies))
	if err != nil {
		return nil, err
	}
	cfg.RegionCookies = cookies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifica a consistência das configurações
func (c *Config) Validate() error {
	if c.CheckInterval < minimumCheckInterval {
		return fmt.Errorf("intervalo de verificação muito curto: %v (mínimo %v)", c.CheckInterval, minimumCheckInterval)
	}
	switch c.IndeterminatePolicy {
	case "keep_prior", "assume_available", "assume_unavailable":
	default:
		return fmt.Errorf("INDETERMINATE_POLICY inválida: %q (use %s)", c.IndeterminatePolicy, validIndeterminatePolicy)
	}
	if c.SeedProductURL == "" {
		return fmt.Errorf("SEED_PRODUCT_URL não pode ser vazio")
	}
	return nil
}

// ParseCookies converte "chave=valor;chave=valor" em cookies
func ParseCookies(raw string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("cookie inválido em REGION_COOKIES: %q", part)
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
