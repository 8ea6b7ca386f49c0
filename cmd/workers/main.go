// Campaign delivery workers: one process running the job expander, the send
// worker, and the status aggregator, plus the admin endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"campaign-delivery/internal/config"
	"campaign-delivery/internal/infra/channel"
	pg "campaign-delivery/internal/infra/db/postgres"
	"campaign-delivery/internal/infra/kafka"
	"campaign-delivery/internal/infra/logging"
	"campaign-delivery/internal/infra/metrics"
	"campaign-delivery/internal/infra/ratelimit"
	red "campaign-delivery/internal/infra/redis"
	"campaign-delivery/internal/infra/web"
	"campaign-delivery/internal/infra/worker"
	"campaign-delivery/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, verbose)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	campaignRepo := pg.NewCampaignRepo(pool)
	recipientRepo := pg.NewRecipientRepo(pool)
	logRepo := pg.NewRecipientLogRepo(pool)

	// ---- Redis (optional, chunk-job dedup) ----
	var dedup usecase.Deduper
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		dedup = red.NewDedupGuard(redisClient, cfg.Redis.DedupTTL)
		logger.Info().Msg("chunk-job dedup enabled")
	} else {
		logger.Info().Msg("redis not configured, chunk-job dedup disabled")
	}

	// ---- Kafka producer ----
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("kafka producer")
	}
	defer producer.Close()

	// ---- Outbound channel ----
	transport := channel.NewTelegramTransport(cfg.Telegram.Token, logger)
	manager := channel.NewManager(transport, channel.Options{
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Channel.ReconnectBaseDelay,
		CircuitMaxFailures:   cfg.Channel.CircuitMaxFailures,
		CircuitResetTimeout:  cfg.Channel.CircuitResetTimeout,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Channel.HeartbeatTimeout,
		SendConcurrency:      cfg.Sender.SendConcurrency,
	}, logger)
	manager.Start(ctx)
	defer manager.Shutdown()

	// ---- Pipeline stages ----
	limiter := ratelimit.NewWindow(cfg.Sender.MaxMessagesPerMinute, time.Minute)
	runner := worker.NewRunner(ctx, logger)
	defer runner.Stop()

	expander := usecase.NewJobExpander(
		campaignRepo, recipientRepo, logRepo, producer, dedup,
		cfg.Kafka.Topics.SendJobs,
		cfg.Pipeline.MaxRecipientsPerJob, cfg.Pipeline.RecipientBatchSize,
		logger,
	)
	sender := usecase.NewSendWorker(
		manager, producer, logRepo, limiter, runner,
		cfg.Kafka.Topics.SendJobs, cfg.Kafka.Topics.StatusUpdates,
		cfg.Sender.MaxSendAttempts, cfg.Sender.RetryBaseDelay,
		logger,
	)
	aggregator := usecase.NewStatusAggregator(logRepo, logger)

	// ---- Consumers ----
	type stage struct {
		name    string
		topic   string
		handler kafka.Handler
	}
	stages := []stage{
		{"expander", cfg.Kafka.Topics.ChunkJobs, expander.HandleMessage},
		{"send", cfg.Kafka.Topics.SendJobs, sender.HandleMessage},
		{"status", cfg.Kafka.Topics.StatusUpdates, aggregator.HandleMessage},
	}

	consumers := make(map[string]*kafka.Consumer, len(stages))
	var wg sync.WaitGroup
	for _, s := range stages {
		group := cfg.Kafka.GroupPrefix + "-" + s.name
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, s.topic, group, s.handler, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("topic", s.topic).Msg("kafka consumer")
		}
		consumers[s.name] = consumer
		wg.Add(1)
		go func(c *kafka.Consumer) {
			defer wg.Done()
			c.Run(ctx)
		}(consumer)
	}

	// ---- Admin server ----
	probes := web.Probes{
		Health: func() []string {
			var problems []string
			for name, c := range consumers {
				if !c.Running() {
					problems = append(problems, name+" consumer stopped")
				}
			}
			if manager.Info().Fatal {
				problems = append(problems, "outbound channel fatal")
			}
			return problems
		},
		Stats: func() map[string]any {
			return map[string]any{
				"expander":   expander.Stats(),
				"sender":     sender.Stats(),
				"aggregator": aggregator.Stats(),
				"channel":    manager.Info(),
				"rate_limit": limiter.Stats(),
			}
		},
	}
	adminSrv := web.NewServer(cfg.Admin.Port, probes, logger)
	go func() {
		if err := adminSrv.Start(); err != nil {
			logger.Error().Err(err).Msg("admin server")
		}
	}()

	// ---- Shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// A dead outbound channel is surfaced through /health and logged, not
	// escalated to a process exit. Only a signal stops the workers.
	go func() {
		<-manager.Fatal()
		logger.Error().Msg("outbound channel is down for good, sends will be rejected")
	}()
	sig := <-sigc
	logger.Info().Str("signal", sig.String()).Msg("shutdown requested")

	cancel()
	for _, c := range consumers {
		c.Close()
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin server shutdown")
	}
	logger.Info().Msg("workers stopped")
}
