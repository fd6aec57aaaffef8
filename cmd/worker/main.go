/**
 * Screen OCR Worker - Main Entry Point
 *
 * Continuously recognizes text on a changing screen feed and fans results
 * out to independent sinks.
 *
 * Architecture:
 * - Frame source: HTTP ingest or asynq frame queue into a latest-frame inbox,
 *   or a replay directory
 * - Engines: Tesseract fast / balanced / accurate variants, optional remote
 *   vision model as a second accurate engine
 * - Adaptive controller: CPU watermarks, circuit breaker, adaptive deadline
 * - Sinks: log, Discord-style webhook, Telegram, WebSocket, MQTT, Redis
 *   pub/sub, asynq tasks, PostgreSQL history, document memory service
 *
 * HTTP (WS_ADDR):
 *   POST /frames   frame ingest
 *   GET  /ws       live result stream
 *   GET  /status   loop, controller, executor and sink statistics
 *   GET  /history  recent results (PostgreSQL or Redis)
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/screenocr-worker/internal/clients"
	"github.com/adverant/nexus/screenocr-worker/internal/config"
	"github.com/adverant/nexus/screenocr-worker/internal/controller"
	"github.com/adverant/nexus/screenocr-worker/internal/dedup"
	"github.com/adverant/nexus/screenocr-worker/internal/distributor"
	"github.com/adverant/nexus/screenocr-worker/internal/engine"
	"github.com/adverant/nexus/screenocr-worker/internal/engine/tesseract"
	"github.com/adverant/nexus/screenocr-worker/internal/executor"
	"github.com/adverant/nexus/screenocr-worker/internal/frame"
	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/orchestrator"
	"github.com/adverant/nexus/screenocr-worker/internal/queue"
	"github.com/adverant/nexus/screenocr-worker/internal/sampler"
	"github.com/adverant/nexus/screenocr-worker/internal/sinks"
	"github.com/adverant/nexus/screenocr-worker/internal/storage"
)

const recommendationInterval = time.Minute

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.screenocr"); err != nil {
		log.Printf("Warning: .env.screenocr not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.SetLevel(cfg.LogLevel)
	logger := logging.NewLogger("Worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build engine registry", "error", err)
		os.Exit(1)
	}
	for _, d := range registry.Descriptors() {
		logger.Info("Engine registered", "name", d.Name, "class", d.Class.String(), "languages", d.Languages)
	}

	probe, err := sampler.NewProbe(cfg.Policy.SamplerScope)
	if err != nil {
		logger.Error("Failed to create resource probe", "error", err)
		os.Exit(1)
	}
	smp := sampler.New(probe, cfg.Policy.SamplerInterval, cfg.Policy.SamplerWindow, logging.NewLogger("Sampler"))

	ctrl, err := controller.New(cfg.Policy, registry)
	if err != nil {
		logger.Error("Failed to create controller", "error", err)
		os.Exit(1)
	}

	exec := executor.New(registry, logging.NewLogger("Executor"))
	cache := dedup.New(cfg.Policy.DedupHorizon, dedup.WithMinTextLength(cfg.Policy.MinTextLength))

	set, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize sinks", "error", err)
		os.Exit(1)
	}
	defer set.close(logger)

	dist, err := distributor.New(set.routes, logging.NewLogger("Distributor"))
	if err != nil {
		logger.Error("Failed to create distributor", "error", err)
		os.Exit(1)
	}

	source, inbox, err := buildSource(cfg)
	if err != nil {
		logger.Error("Failed to create frame source", "error", err)
		os.Exit(1)
	}
	var frames *queue.FrameConsumer
	switch {
	case cfg.FrameQueue != "" && inbox == nil:
		logger.Warn("FRAME_QUEUE is ignored while replaying FRAME_DIR", "queue", cfg.FrameQueue)
	case cfg.FrameQueue != "":
		frames, err = queue.NewFrameConsumer(&queue.FrameConsumerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.FrameQueue,
			Inbox:     inbox,
			MaxAge:    cfg.FrameMaxAge,
		}, logging.NewLogger("FrameConsumer"))
		if err != nil {
			logger.Error("Failed to create frame consumer", "error", err)
			os.Exit(1)
		}
	case inbox != nil && cfg.WebSocketAddr == "":
		logger.Warn("No FRAME_DIR, FRAME_QUEUE or WS_ADDR: nothing can submit frames")
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Source:      source,
		Executor:    exec,
		Controller:  ctrl,
		Sampler:     smp,
		Dedup:       cache,
		Distributor: dist,
		Logger:      logging.NewLogger("Orchestrator"),
	})
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	logger.Info("Screen OCR worker is READY",
		"sinks", dist.Sinks(),
		"interval", cfg.Policy.IntervalInitial,
		"intervalBounds", fmt.Sprintf("[%v, %v]", cfg.Policy.IntervalMin, cfg.Policy.IntervalMax),
		"watermarks", fmt.Sprintf("%.0f/%.0f", cfg.Policy.LowWatermark, cfg.Policy.HighWatermark),
		"dedupHorizon", cfg.Policy.DedupHorizon)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return smp.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		reportRecommendations(gctx, smp, exec, logger)
		return nil
	})
	if frames != nil {
		g.Go(func() error { return frames.Run(gctx) })
	}

	if cfg.WebSocketAddr != "" {
		status := &statusView{orch: orch, ctrl: ctrl, exec: exec, smp: smp, dist: dist, cache: cache, inbox: inbox, frames: frames}
		srv := &http.Server{
			Addr:              cfg.WebSocketAddr,
			Handler:           newMux(status, set, inbox),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.WebSocketAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if set.hub != nil {
				set.hub.Close()
			}
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
	}

	logger.Info("Draining in-flight deliveries...")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Policy.SinkTimeout+time.Second)
	defer cancel()
	if err := dist.Wait(drainCtx); err != nil {
		logger.Warn("Deliveries still running at exit", "error", err)
	}

	logger.Info("Shutdown complete", "cycles", orch.Status().Cycles)
}

func buildRegistry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*engine.Registry, error) {
	var entries []engine.Entry
	for _, e := range tesseract.Variants(cfg.TesseractLanguages) {
		entries = append(entries, e.Entry())
	}

	if cfg.VisionURL != "" {
		client := clients.NewVisionClient(cfg.VisionURL)
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.HealthCheck(hctx); err != nil {
			logger.Warn("Vision service health check failed, registering anyway", "url", cfg.VisionURL, "error", err)
		}
		cancel()
		entries = append(entries, engine.NewVisionEngine("vision", cfg.Policy.Language, client).Entry())
	}

	return engine.NewRegistry(entries...)
}

func buildSource(cfg *config.Config) (frame.Source, *frame.LatestSource, error) {
	if cfg.FrameDir != "" {
		src, err := frame.NewDirSource(cfg.FrameDir, cfg.FrameLoop)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}
	inbox := frame.NewLatestSource()
	return inbox, inbox, nil
}

// sinkSet keeps the constructed sinks so they can be closed at exit
type sinkSet struct {
	routes  []distributor.Route
	hub     *sinks.WebSocketHub
	store   *storage.ResultStore
	redis   *queue.RedisPublisher
	closers []func() error
}

func (s *sinkSet) add(cfg *config.Config, sink distributor.Sink) {
	s.routes = append(s.routes, distributor.Route{
		Sink:     sink,
		Interval: cfg.Policy.SinkRate(sink.Name()),
		Burst:    1,
		Timeout:  cfg.Policy.SinkTimeout,
	})
}

func (s *sinkSet) close(logger *logging.Logger) {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Warn("Error closing sink", "error", err)
		}
	}
}

func buildSinks(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sinkSet, error) {
	set := &sinkSet{}

	if cfg.LogSink {
		set.add(cfg, sinks.NewLogSink(logging.NewLogger("Results")))
	}

	if cfg.DiscordWebhookURL != "" {
		set.add(cfg, sinks.NewWebhookSink(clients.NewWebhookClient(cfg.DiscordWebhookURL)))
	}

	if cfg.TelegramBotToken != "" {
		bot, err := sinks.NewTelegramBot(cfg.TelegramBotToken)
		if err != nil {
			return nil, err
		}
		logger.Info("Telegram bot authorized", "account", bot.Self.UserName, "chats", len(cfg.TelegramChatIDs))
		set.add(cfg, sinks.NewTelegramSink(bot, cfg.TelegramChatIDs))
	}

	if cfg.WebSocketAddr != "" {
		set.hub = sinks.NewWebSocketHub(logging.NewLogger("WebSocketHub"))
		set.add(cfg, set.hub)
	}

	if cfg.MQTTBroker != "" {
		client, err := sinks.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, logging.NewLogger("MQTT"))
		if err != nil {
			return nil, err
		}
		m := sinks.NewMQTTSink(client, cfg.MQTTTopic, logging.NewLogger("MQTTSink"))
		set.add(cfg, m)
		set.closers = append(set.closers, func() error { m.Close(); return nil })
	}

	if cfg.RedisURL != "" {
		pub, err := queue.NewRedisPublisher(ctx, &queue.RedisPublisherConfig{
			RedisURL:   cfg.RedisURL,
			Prefix:     cfg.RedisPrefix,
			RecentSize: cfg.RedisRecentSize,
		})
		if err != nil {
			return nil, err
		}
		set.redis = pub
		set.add(cfg, pub)
		set.closers = append(set.closers, pub.Close)
	}

	if cfg.TaskQueue != "" {
		producer, err := queue.NewTaskProducer(&queue.TaskProducerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.TaskQueue,
		})
		if err != nil {
			return nil, err
		}
		set.add(cfg, producer)
		set.closers = append(set.closers, producer.Close)
	}

	if cfg.DatabaseURL != "" {
		store, err := storage.NewResultStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		set.store = store
		set.add(cfg, store)
		set.closers = append(set.closers, store.Close)
	}

	if cfg.KnowledgeURL != "" {
		client := clients.NewKnowledgeClient(cfg.KnowledgeURL, clients.KnowledgeTenant{Company: cfg.KnowledgeCompany})
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.HealthCheck(hctx); err != nil {
			logger.Warn("Knowledge service health check failed, registering anyway", "url", cfg.KnowledgeURL, "error", err)
		}
		cancel()
		set.add(cfg, sinks.NewKnowledgeSink(client, cfg.KnowledgeTags, cfg.KnowledgeMinRunes))
	}

	if len(set.routes) == 0 {
		logger.Warn("No sinks configured; results will be recognized but not delivered")
	}
	return set, nil
}

func reportRecommendations(ctx context.Context, smp *sampler.Sampler, exec *executor.Executor, logger *logging.Logger) {
	ticker := time.NewTicker(recommendationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range controller.Recommendations(smp.Sample(), exec.Stats()) {
				logger.Warn("Performance recommendation", "hint", rec)
			}
		}
	}
}

// statusView gathers every component's statistics for GET /status
type statusView struct {
	orch   *orchestrator.Orchestrator
	ctrl   *controller.Controller
	exec   *executor.Executor
	smp    *sampler.Sampler
	dist   *distributor.Distributor
	cache  *dedup.Cache
	inbox  *frame.LatestSource
	frames *queue.FrameConsumer
}

func (v *statusView) build() map[string]interface{} {
	sample := v.smp.Sample()
	stats := v.exec.Stats()
	state := v.ctrl.Snapshot()
	emitted, suppressed := v.cache.Counts()

	outcomes := make([]string, len(state.Outcomes))
	for i, k := range state.Outcomes {
		outcomes[i] = k.String()
	}

	out := map[string]interface{}{
		"orchestrator": v.orch.Status(),
		"controller": map[string]interface{}{
			"cycles":            state.Cycles,
			"cpu_mean":          state.CPUMean,
			"breaker_remaining": state.BreakerRemaining,
			"breaker_trips":     state.BreakerTrips,
			"recent_outcomes":   outcomes,
		},
		"executor": map[string]interface{}{
			"total":          stats.Total,
			"succeeded":      stats.Succeeded,
			"timeouts":       stats.Timeouts,
			"failures":       stats.Failures,
			"abandoned":      stats.Abandoned,
			"avg_processing": stats.AvgProcessing.String(),
			"success_rate":   stats.SuccessRate,
		},
		"resources": map[string]interface{}{
			"cpu_percent":     sample.CPUPercent,
			"memory_mb":       sample.MemoryMB,
			"avg_recognition": sample.AvgRecognition.String(),
			"taken_at":        sample.TakenAt,
		},
		"dedup": map[string]interface{}{
			"emitted":    emitted,
			"suppressed": suppressed,
			"keys":       v.cache.Len(),
		},
		"sinks":           v.dist.Stats(),
		"recommendations": controller.Recommendations(sample, stats),
	}
	if v.inbox != nil {
		out["inbox"] = v.inbox.Stats()
	}
	if v.frames != nil {
		out["frame_queue"] = v.frames.Stats()
	}
	return out
}

func newMux(status *statusView, set *sinkSet, inbox *frame.LatestSource) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.build())
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case set.store != nil:
			rows, err := set.store.Recent(r.Context(), 50)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeJSON(w, rows)
		case set.redis != nil:
			events, err := set.redis.Recent(r.Context(), 50)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeJSON(w, events)
		default:
			http.Error(w, "no history sink configured", http.StatusNotFound)
		}
	})

	if set.hub != nil {
		mux.Handle("/ws", set.hub)
	}
	if inbox != nil {
		mux.Handle("/frames", frame.IngestHandler(inbox))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
