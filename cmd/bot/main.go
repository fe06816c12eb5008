package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-monitor/config"
	"stock-monitor/internal/bot"
	"stock-monitor/internal/database"
	"stock-monitor/internal/logger"
	"stock-monitor/internal/models"
	"stock-monitor/internal/monitor"
	"stock-monitor/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Carregar variáveis de ambiente
	if err := godotenv.Load(); err != nil {
		log.Println("Arquivo .env não encontrado, usando variáveis de ambiente do sistema")
	}

	// Carregar configurações
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Erro ao carregar configurações: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Erro ao inicializar logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Encerrando com erro", logger.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inicializar banco de dados
	db, err := database.New(cfg.DatabasePath, appLogger.With(logger.String("component", "database")))
	if err != nil {
		return err
	}
	defer db.Close()

	// Inicializar scrapers
	client := scraper.NewClient(cfg.FetchTimeout, cfg.HostRateLimit)
	classifiers := scraper.NewRegistry()
	rotator := scraper.NewIdentityRotator(cfg.RegionCookies)

	monitorLogger := appLogger.With(logger.String("component", "monitor"))
	seed := models.DefaultSeed(cfg.SeedProductURL, cfg.SeedProductName, cfg.CheckInterval, cfg.MaxRetries)
	registry := monitor.NewRegistry(db, seed, monitorLogger)
	events := monitor.NewEventLog(monitor.DefaultEventLimit, db, monitorLogger)

	// Inicializar bot do Telegram (opcional)
	var notifier monitor.Notifier = monitor.NotifierFunc(func(_ context.Context, p models.Product, v models.Variant) error {
		appLogger.Info("Produto disponível",
			logger.String("product_id", p.ID),
			logger.String("variant", v.DisplayName()),
			logger.String("url", v.URL))
		return nil
	})
	botLogger := appLogger.With(logger.String("component", "telegram"))
	var api *tgbotapi.BotAPI
	if cfg.TelegramEnabled() {
		api, err = bot.Init(cfg.TelegramBotToken, botLogger)
		if err != nil {
			return err
		}
		notifier = bot.NewTelegramNotifier(api, cfg.TelegramChatID, botLogger)
	} else {
		appLogger.Warn("TELEGRAM_BOT_TOKEN não configurado, alertas apenas no log")
	}

	// Criar gerenciador de monitoramento
	mon := monitor.New(registry, client, classifiers, events, notifier, monitor.Options{
		Policy:         monitor.IndeterminatePolicy(cfg.IndeterminatePolicy),
		StartJitter:    cfg.StartJitter,
		IntervalSettle: cfg.IntervalSettle,
		Rotator:        rotator,
		Metrics:        monitor.NewMetrics(prometheus.DefaultRegisterer),
		Logger:         monitorLogger,
	})
	if err := mon.Restore(ctx); err != nil {
		return err
	}

	// Configurar comandos do bot
	if api != nil {
		handler := bot.NewHandler(api, mon, client, rotator, bot.Options{
			AuthorizedChatID: cfg.TelegramChatID,
			DefaultInterval:  cfg.CheckInterval,
			MaxRetries:       cfg.MaxRetries,
		}, botLogger)
		go handler.Listen(ctx, api)
	}

	return serve(ctx, cfg, mon, appLogger)
}

// serve expõe as métricas e bloqueia até o sinal de encerramento
func serve(ctx context.Context, cfg *config.Config, mon *monitor.Monitor, appLogger logger.Logger) error {
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			appLogger.Info("Servidor de métricas iniciado", logger.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Erro no servidor de métricas", logger.Error(err))
			}
		}()
	}

	appLogger.Info("Monitor em execução", logger.Int("products", len(mon.Products())), logger.Int("active_timers", mon.ActiveTimers()))

	// Aguardar sinal de interrupção
	<-ctx.Done()
	appLogger.Info("Encerrando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return mon.Shutdown(shutdownCtx)
}
