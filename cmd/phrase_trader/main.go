package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"phrase_trading/internal/clob"
	"phrase_trading/internal/config"
	"phrase_trading/internal/dispatch"
	"phrase_trading/internal/guard"
	"phrase_trading/internal/logger"
	"phrase_trading/internal/pipeline"
	"phrase_trading/internal/recognizer"
	"phrase_trading/internal/recorder"
	"phrase_trading/internal/storage"
	"phrase_trading/internal/telegram"
	"phrase_trading/internal/trigger"
)

const LogFile = "trader.log"
const VersionFile = "version.latest"

const DetectionsCSV = "detections.csv"
const TradesCSV = "trades.csv"

// main is the entry point of the application.
func main() {
	// 1. Initialization
	// Load configuration first to get logger settings
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg.Version = readVersion()

	// Setup logging with configured values
	logger.Setup(LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	rules, err := config.LoadRules(cfg)
	if err != nil {
		log.Fatalf("Markets file error: %v", err)
	}

	state, err := storage.LoadState()
	if err != nil {
		log.Fatalf("State file error: %v", err)
	}

	// Create a context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Setup Dependencies
	g := guard.New(rules, guard.Options{
		PreventDuplicates:   cfg.PreventDuplicateTrades,
		RequireConfirmation: cfg.RequireConfirmation,
		MaxDailyVolume:      cfg.MaxDailyVolumeUSD(),
		DayLoc:              cfg.DayLoc,
	}, state)

	rec, err := recorder.NewCSV(DetectionsCSV, TradesCSV)
	if err != nil {
		log.Fatalf("Recorder error: %v", err)
	}
	defer rec.Close()

	placer := clob.NewClient(clob.Config{
		BaseURL:    cfg.ClobAPIURL,
		APIKey:     cfg.ClobAPIKey,
		APISecret:  cfg.ClobAPISecret,
		Passphrase: cfg.ClobAPIPassphrase,
	})
	d := dispatch.New(placer, g, rec, cfg.OrderTimeout())

	p := pipeline.New(cfg, rules, trigger.New(rules, cfg.PreventDuplicateTrades), g, d, rec)
	p.SetNotifier(telegram.Notify, telegram.SendInteractiveMessage)

	// 3. Start Telegram Command Listener (Background)
	go telegram.StartListener(ctx, p.HandleCommand, p.HandleCallback)

	// 4. Setup Signal Handling (Graceful Shutdown)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("⚠️ Trader Shutting Down: System signal received.")
		cancel()
	}()

	source, err := buildSource(cfg)
	if err != nil {
		log.Fatalf("Recognizer error: %v", err)
	}

	events, err := source.Events(ctx)
	if err != nil {
		log.Fatalf("Recognizer start error: %v", err)
	}

	log.Printf("Phrase Trader %s Initialized", cfg.Version)
	log.Printf("Source: %s | Markets: %d | Daily cap: $%s | Spent today: $%s",
		source.Name(), rules.Len(), cfg.MaxDailyVolumeUSD().StringFixed(2), g.SpentToday().StringFixed(2))
	telegram.Notify(fmt.Sprintf("🟢 *Phrase Trader %s started*\nSource: %s\nMarkets: %d",
		cfg.Version, source.Name(), rules.Len()))

	// 5. Main Loop
	runErr := p.Run(ctx, events)

	// Persist the final tracker state before exiting so the next start
	// resumes the traded set and today's volume.
	storage.SaveState(g.Snapshot())

	if runErr != nil && runErr != context.Canceled {
		telegram.Notify(fmt.Sprintf("🔴 *Phrase Trader stopped on error*\n%v", runErr))
		log.Fatalf("Pipeline error: %v", runErr)
	}
	telegram.Notify("🔴 *Phrase Trader stopped*")
	log.Println("🛑 Shutdown complete.")
}

// buildSource selects the recognition event source. "line" reads transcripts
// from stdin, "websocket" attaches to a streaming recognizer endpoint.
func buildSource(cfg *config.Settings) (recognizer.Source, error) {
	switch cfg.RecognizerSource {
	case "line":
		return recognizer.NewLineSource(os.Stdin), nil
	case "websocket":
		if cfg.RecognizerWSURL == "" {
			return nil, fmt.Errorf("RECOGNIZER_SOURCE=websocket requires RECOGNIZER_WS_URL")
		}
		return recognizer.NewWebsocketSource(cfg.RecognizerWSURL), nil
	default:
		return nil, fmt.Errorf("unknown RECOGNIZER_SOURCE %q (want line or websocket)", cfg.RecognizerSource)
	}
}

func readVersion() string {
	// read version from VersionFile file
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return string(version)
}
