// Command paneforged runs the orchestration engine: it owns the
// database, every in-process component, and the HTTP server, wiring
// them together in dependency order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paneforge/clock"
	"paneforge/config"
	"paneforge/events"
	"paneforge/fanout"
	"paneforge/handoff"
	"paneforge/hookingress"
	"paneforge/httpapi"
	"paneforge/internal/logging"
	"paneforge/panedriver"
	"paneforge/reviewer"
	"paneforge/reviewerdriver"
	"paneforge/store"
	"paneforge/supervisor"
	"paneforge/ticketfsm"
	"paneforge/waiting"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "server" {
		fmt.Fprintln(os.Stderr, "usage: paneforged server start [flags]")
		os.Exit(2)
	}

	cfg := config.Default()
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	apply := config.Flags(fs, &cfg)
	fs.Parse(os.Args[2:])
	apply()
	config.ApplyEnv(&cfg)

	log := logging.New(*logLevel)
	log.Info("starting", "component", logging.Component("paneforged"), "host", cfg.Host, "port", cfg.Port)

	if err := run(cfg, log); err != nil {
		log.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	st := store.New(db)

	pane := panedriver.NewTmuxDriver(cfg.PaneToolPath)
	reviewerDriver := reviewerdriver.NewCLIDriver(cfg.ReviewerCLIPath)
	clk := clock.Real{}
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(ctx, st, pane, clk, bus, supervisor.Config{
		PollInterval:        cfg.OutputPollInterval,
		RingBufferCapacity:  cfg.RingBufferCapacity,
		ContextPercentRegex: supervisor.DefaultContextRegex,
		ContextLowThreshold: cfg.ContextLowThresholdPercent,
	})

	tickets := ticketfsm.New(st, bus, sup)

	rv := reviewer.New(st, bus, reviewerDriver, sup, tickets, reviewer.Config{
		Timeout: cfg.ReviewTimeout,
	})

	waitingDetector := waiting.New(st, bus, clk, waiting.Config{
		DebounceDelay: cfg.WaitingDebounce,
		ClearDelay:    cfg.WaitingClearDelay,
		IdleThreshold: cfg.IdleThreshold,
	}, rv)

	ho := handoff.New(st, bus, sup, clk, handoff.Config{
		ThresholdPercent: cfg.ContextLowThresholdPercent,
		ExportCommand: cfg.HandoffExportCommand,
		ImportCommand: cfg.HandoffImportCommand,
		PollInterval:  cfg.HandoffPollInterval,
		Timeout:       cfg.HandoffTimeout,
		ExportDelay:   cfg.HandoffExportDelay,
		ImportDelay:   cfg.HandoffImportDelay,
	})

	hub := fanout.New(bus, sup, clk, fanout.Config{
		PingInterval:      cfg.FanOutPingInterval,
		ConnectionTimeout: cfg.FanOutConnectionTimeout,
		RateLimitMax:      cfg.FanOutRateLimitMax,
		RateLimitWindow:   cfg.FanOutRateLimitWindow,
		ReplayLines:       cfg.FanOutReplayLines,
		MaxMessageBytes:   cfg.FanOutMaxMessageBytes,
	})

	ingress := hookingress.New(waitingDetector)

	api := httpapi.New(st, sup, tickets, rv, log, cfg.APIKey, "dev")

	go dispatchBusEvents(ctx, bus, st, waitingDetector, ho, log)

	log.Info("recovering sessions", "component", logging.Component("supervisor"))
	if err := sup.Recover(ctx); err != nil {
		log.Warn("session recovery failed", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.HandleFunc("POST /hooks/claude", ingress.HandleClaudeHook)
	mux.HandleFunc("POST /hooks/session-start", ingress.HandleSessionStart)
	mux.Handle("/ws", hub)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// dispatchBusEvents bridges internal events to components that react to
// them rather than publish them: WaitingDetector's output-pattern layer
// and AutoHandoff's context-low trigger both subscribe this way so
// neither supervisor package needs to import them directly.
func dispatchBusEvents(ctx context.Context, bus *events.Bus, st *store.Store, wd *waiting.Detector, ho *handoff.Handoff, log *slog.Logger) {
	sub := bus.Subscribe(256)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindSessionOutput:
				payload, ok := ev.Payload.(events.SessionOutputPayload)
				if !ok {
					continue
				}
				sess, err := st.GetSession(ev.SessionID)
				if err != nil {
					continue
				}
				wd.HandleOutputLines(ev.SessionID, sess.TicketID, payload.Lines)
			case events.KindSessionContextLow:
				payload, ok := ev.Payload.(events.SessionContextPayload)
				if !ok {
					continue
				}
				ho.OnContextLow(ev.SessionID, payload.ContextPercent)
			case events.KindSessionStatus:
				payload, ok := ev.Payload.(events.SessionStatusPayload)
				if ok && payload.NewStatus != "" {
					log.Debug("session status", "sessionId", ev.SessionID, "status", payload.NewStatus)
				}
			}
		}
	}
}
