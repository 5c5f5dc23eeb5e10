package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"miniqmt/api"
	"miniqmt/config"
	"miniqmt/grid"
	"miniqmt/logger"
	"miniqmt/manager"
	"miniqmt/market"
	"miniqmt/notify"
	"miniqmt/position"
	"miniqmt/risk"
	sigbroker "miniqmt/signal"
	"miniqmt/store"
	"miniqmt/trader"
)

// eventRetention rows older than this are pruned daily
const eventRetention = 30 * 24 * time.Hour

func main() {
	// .env is optional; in containers the runtime injects the variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Failed to load config: %v", err)
	}
	logger.Init(cfg.Log)
	provider := config.NewProvider(cfg)

	logger.Info("╔════════════════════════════════════════════╗")
	logger.Info("║   📈 miniQMT Position Risk & Grid Engine   ║")
	logger.Info("╚════════════════════════════════════════════╝")
	logger.Infof("📋 Mode: simulation=%v auto_trading=%v symbols=%v",
		cfg.SimulationMode, cfg.AutoTrading, cfg.Symbols)

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("❌ Failed to open database %s: %v", cfg.DBPath, err)
	}
	defer st.Close()

	// Risk engine first so the book can compute stop floors on every mutation
	riskEng := risk.NewEngine(cfg.Risk)
	book := position.NewBook(riskEng.Floor)

	if err := position.Restore(book, st.Position()); err != nil {
		logger.Fatalf("❌ Failed to restore positions: %v", err)
	}
	logger.Infof("💾 Restored %d positions from %s", book.Len(), cfg.DBPath)

	gridEng := grid.NewEngine(book, st.Grid())
	if err := gridEng.RestoreSessions(); err != nil {
		logger.Fatalf("❌ Failed to restore grid sessions: %v", err)
	}

	broker := sigbroker.NewBroker()

	notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Fatalf("❌ Failed to init telegram notifier: %v", err)
	}

	// Market data and order gateway depend on the run mode
	var source market.Source
	var gateway trader.Gateway
	var flushPolicy position.FlushPolicy
	if cfg.SimulationMode {
		source = market.NewSimSource()
		gateway = trader.NewPaperGateway()
		flushPolicy = position.SimFlushPolicy{}
		logger.Info("🧪 Simulation mode: in-memory quotes, paper fills")
	} else {
		feed := market.NewWSFeed(cfg.QuoteWSURL, cfg.BridgeBaseURL, cfg.Symbols)
		if err := feed.Connect(); err != nil {
			logger.Fatalf("❌ Failed to connect quote feed: %v", err)
		}
		defer feed.Close()
		source = feed
		gateway = trader.NewBridgeGateway(cfg.BridgeBaseURL, cfg.Monitor.CallTimeout)
		flushPolicy = position.LiveFlushPolicy{}
	}

	monitor := trader.NewMonitor(provider, source, gateway, book, riskEng, gridEng, broker, st.Event())
	executor := trader.NewExecutor(provider, gateway, book, gridEng, broker, st.Event(), notifier)
	flusher := position.NewFlusher(book, st.Position(), flushPolicy, cfg.Monitor.FlushInterval)

	supervisor := manager.NewSupervisor(30*time.Second, 2*time.Minute)
	supervisor.Watch("monitor", monitor.Heartbeat(), 5*cfg.Monitor.TickInterval, func() {
		monitor.Stop()
		monitor.Start()
	})
	supervisor.Watch("executor", executor.Heartbeat(), 5*cfg.Monitor.ExecuteInterval, func() {
		executor.Stop()
		executor.Start()
	})
	supervisor.Watch("flusher", flusher.Heartbeat(), 5*cfg.Monitor.FlushInterval, func() {
		flusher.Stop()
		flusher.Start()
	})

	monitor.Start()
	executor.Start()
	flusher.Start()
	supervisor.Start()

	pruneStop := make(chan struct{})
	go pruneEvents(st.Event(), pruneStop)

	server := api.NewServer(provider, book, gridEng, broker, st.Event(), supervisor, monitor, cfg.APIServerPort)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("❌ API server failed: %v", err)
		}
	}()

	notifier.Alertf("🟢 miniQMT engine started (simulation=%v)", cfg.SimulationMode)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down...")
	close(pruneStop)
	supervisor.Stop()
	monitor.Stop()
	executor.Stop()
	flusher.Stop()
	if err := server.Shutdown(); err != nil {
		logger.Warnf("⚠️  API server shutdown: %v", err)
	}
	notifier.Alert("🔴 miniQMT engine stopped")
	logger.Info("✅ Shutdown complete")
}

// pruneEvents trims old pipeline events once a day
func pruneEvents(events *store.EventStore, stop <-chan struct{}) {
	prune := func() {
		if n, err := events.Prune(eventRetention); err != nil {
			logger.Warnf("⚠️  Event prune failed: %v", err)
		} else if n > 0 {
			logger.Infof("🧹 Pruned %d old events", n)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			prune()
		}
	}
}
