package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"perpetual/internal/api"
	"perpetual/internal/api/middleware"
	"perpetual/internal/config"
	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/internal/repository"
	"perpetual/internal/service"
	"perpetual/internal/websocket"
	"perpetual/pkg/utils"
)

func main() {
	// server hash-token [token] - выдать токен governance без запуска сервера
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		var token string
		if len(os.Args) > 2 {
			token = os.Args[2]
		}
		if err := hashTokenCommand(os.Stdout, token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(cfg.Logging.LogConfig())
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", utils.Err(err))
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database %s: %w", cfg.Database.DSNWithoutPassword(), err)
	}
	defer db.Close()
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	eventRepo := repository.NewEventRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	marketRepo := repository.NewMarketRepository(db)

	clock := utils.SystemClock{}

	// Залоговый токен и хранилище
	token := ledger.NewMemoryToken()
	for addr, amount := range cfg.Engine.Genesis {
		token.Mint(addr, amount)
	}
	vault := ledger.NewVault(token, cfg.Engine.Vault)

	prices, manual, err := initOracle(cfg.Oracle, clock, log)
	if err != nil {
		return err
	}

	// Журнал событий и WebSocket
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, log)
	events := service.NewEventService(eventRepo, positionRepo, marketRepo, cfg.Server.EventBufferSize, log)
	events.SetWebSocketHub(hub)

	var fund *insurance.Fund
	if cfg.Insurance.Enabled {
		fund = insurance.NewFund(insurance.Config{
			Governance:           cfg.Engine.Governance,
			Address:              cfg.Insurance.Address,
			MaxClaimRatioBps:     cfg.Insurance.MaxClaimRatioBps,
			RewardRateBps:        cfg.Insurance.RewardRateBps,
			DistributionInterval: cfg.Insurance.DistributionInterval,
		}, token, clock, log, events)
	}

	eng, err := initEngine(cfg, vault, prices, fund, events, clock, log)
	if err != nil {
		return err
	}
	events.SetStateReader(eng)
	if fund != nil {
		fund.SetExposureProvider(eng.TotalExposure)
		if err := fund.AuthorizeClaimant(cfg.Engine.Governance, cfg.Engine.Address, true); err != nil {
			return fmt.Errorf("authorize engine claimant: %w", err)
		}
	}

	var (
		bot    *keeper.LiquidationBot
		runner *keeper.Runner
	)
	if cfg.Keeper.Enabled {
		bot, err = keeper.NewLiquidationBot(keeper.Config{
			Address:            cfg.Keeper.Address,
			UpdateInterval:     cfg.Keeper.UpdateInterval,
			ProfitThreshold:    cfg.Keeper.ProfitThreshold,
			MaxGasPrice:        cfg.Keeper.MaxGasPrice,
			DiscoveryBufferBps: cfg.Keeper.DiscoveryBufferBps,
			MaxBatchSize:       cfg.Keeper.MaxBatchSize,
		}, eng, token, clock, log)
		if err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
		if err := bot.Register(ctx); err != nil {
			return fmt.Errorf("register keeper: %w", err)
		}
		runner = keeper.NewRunner(bot, keeper.RunnerConfig{
			Interval:    cfg.Keeper.RunInterval,
			Beneficiary: cfg.Keeper.Beneficiary,
		}, log)
	}

	trading := service.NewTradingService(eng, bot, runner, prices, fund, log)
	governance := service.NewGovernanceService(eng, fund, manual, marketRepo, log)

	loaded, err := governance.LoadMarkets(ctx, cfg.Markets)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	log.Info("markets loaded", utils.Int("count", loaded))

	// Фоновые циклы
	go hub.Run()
	go events.Run(ctx)
	if cfg.Server.EventRetention > 0 {
		go events.RunRetention(ctx, clock, cfg.Server.EventRetention, time.Hour)
	}
	if runner != nil {
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("keeper runner stopped", utils.Err(err))
			}
		}()
	}

	router := api.SetupRoutes(&api.Dependencies{
		Trading:        trading,
		Governance:     governance,
		Events:         events,
		Hub:            hub,
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth: middleware.AuthConfig{
			TokenHash:    cfg.Security.GovernanceTokenHash,
			FailureRate:  cfg.Security.AuthFailureRate,
			FailureBurst: cfg.Security.AuthFailureBurst,
		},
		Signatures: middleware.SignatureConfig{
			MaxAge: cfg.Security.SignatureMaxAge,
			Clock:  clock,
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", utils.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}
	cancel()
	hub.Stop()
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initOracle собирает агрегатор из ручного и HTTP источников
func initOracle(cfg config.OracleConfig, clock utils.Clock, log *utils.Logger) (*oracle.Aggregator, *oracle.ManualSource, error) {
	ocfg := oracle.DefaultConfig()
	ocfg.MaxPriceAge = cfg.MaxPriceAge
	ocfg.MinConfidence = uint8(cfg.MinConfidence)
	ocfg.MinValidSources = cfg.MinValidSources
	ocfg.MaxDeviationBps = cfg.MaxDeviationBps
	ocfg.HistorySize = cfg.HistorySize
	ocfg.HistorySymbols = cfg.HistorySymbols
	ocfg.Retry.MaxAttempts = cfg.RetryAttempts

	prices, err := oracle.NewAggregator(ocfg, clock, log)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: %w", err)
	}

	var manual *oracle.ManualSource
	if cfg.ManualWeight > 0 {
		manual = oracle.NewManualSource("manual", clock)
		if err := prices.AddSource(manual, cfg.ManualWeight); err != nil {
			return nil, nil, fmt.Errorf("oracle source manual: %w", err)
		}
	}

	if len(cfg.HTTPSources) > 0 {
		hcfg := oracle.DefaultHTTPClientConfig()
		hcfg.TotalTimeout = cfg.HTTPTimeout
		client := oracle.NewHTTPClient(hcfg)
		for _, src := range cfg.HTTPSources {
			if err := prices.AddSource(oracle.NewHTTPSource(src.Name, src.URL, client), src.Weight); err != nil {
				return nil, nil, fmt.Errorf("oracle source %s: %w", src.Name, err)
			}
			log.Info("oracle source added", utils.String("source", src.Name), utils.Int64("weight", src.Weight))
		}
	}

	return prices, manual, nil
}

// initEngine создает движок. fund == nil - движок без страхового фонда.
func initEngine(
	cfg *config.Config,
	vault *ledger.Vault,
	prices *oracle.Aggregator,
	fund *insurance.Fund,
	events *service.EventService,
	clock utils.Clock,
	log *utils.Logger,
) (*engine.TradingEngine, error) {
	ecfg := engine.DefaultConfig()
	ecfg.Governance = cfg.Engine.Governance
	ecfg.EngineAddress = cfg.Engine.Address
	ecfg.FundingInterval = cfg.Engine.FundingInterval
	ecfg.FundingMinInterval = cfg.Engine.FundingMinInterval
	ecfg.MaxFundingRateBps = cfg.Engine.MaxFundingRateBps
	ecfg.HoldingFeeBpsPerDay = cfg.Engine.HoldingFeeBpsPerDay
	ecfg.MinReward = cfg.Engine.MinReward
	ecfg.MaxReward = cfg.Engine.MaxReward
	ecfg.MaxLiquidationsPerWindow = cfg.Engine.MaxLiquidationsPerWindow
	ecfg.LiquidationWindow = cfg.Engine.LiquidationWindow
	ecfg.SettlePnLOnClose = cfg.Engine.SettlePnLOnClose
	ecfg.TWAPPeriod = cfg.Engine.TWAPPeriod
	ecfg.ReentryWait = cfg.Engine.ReentryWait

	deps := engine.Deps{
		Config:                ecfg,
		Vault:                 vault,
		Feed:                  prices,
		Sink:                  events,
		Clock:                 clock,
		Logger:                log,
		DefaultRiskParameters: models.DefaultRiskParameters(),
	}
	// typed nil в интерфейсе включил бы вызовы фонда
	if fund != nil {
		deps.Insurance = fund
	}

	eng, err := engine.NewTradingEngine(deps)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return eng, nil
}
