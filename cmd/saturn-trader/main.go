package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saturn/internal/audit"
	"saturn/internal/broker"
	"saturn/internal/config"
	"saturn/internal/engine"
	"saturn/internal/httpapi"
	"saturn/internal/ledger"
	"saturn/internal/pricecache"
	"saturn/internal/util"
)

func main() {
	cfgPath := "config/saturn.yaml"
	if p := os.Getenv("SATURN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	st, err := ledger.NewSQLiteStore(cfg.Storage.SQLitePath, cfg.Trading.Account)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer st.Close()

	var gw broker.Gateway
	if cfg.Trading.PaperMode {
		gw = broker.NewSimulator()
	} else {
		gw = broker.NewAlpacaGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	schedule := make([]time.Duration, 0, len(cfg.Engine.RetrySchedule))
	for _, d := range cfg.Engine.RetrySchedule {
		schedule = append(schedule, d.Std())
	}
	gw = broker.NewRetryGateway(gw, schedule)

	eng := engine.New(st, gw, engine.Options{
		Account:             cfg.Trading.Account,
		TimeInForce:         cfg.Trading.TimeInForce,
		CancelGraceWindow:   cfg.Engine.CancelGraceWindow.Std(),
		ListPageSize:        cfg.Engine.ListPageSize,
		MaxListPages:        cfg.Engine.MaxListPages,
		HeuristicMapping:    cfg.Engine.HeuristicMapping,
		ListRateLimitPerMin: cfg.Engine.ListRateLimitPerMin,
	}, logger)

	var prices *pricecache.Cache
	if cfg.Alpaca.APIKey != "" {
		quoter := pricecache.NewAlpacaQuoter(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
		prices = pricecache.New(quoter, cfg.Trading.PriceCacheTTL.Std())
	}

	var exporter *audit.Exporter
	if cfg.Storage.DataDir != "" {
		exporter = audit.NewExporter(cfg.Storage.DataDir, st)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("saturn-trader starting",
		"broker", gw.Name(), "paper_mode", cfg.Trading.PaperMode,
		"reconcile_interval", cfg.Engine.ReconcileInterval.Std())

	go eng.Run(ctx, cfg.Engine.ReconcileInterval.Std())

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
	srv := httpapi.NewServer(eng, prices, exporter, logger)
	if err := srv.Serve(ctx, addr); err != nil {
		log.Fatalf("http server error: %v", err)
	}
}
