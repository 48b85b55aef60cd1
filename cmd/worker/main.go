package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/exchange"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/logger"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/queue"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/storage"
	"github.com/vitos/trade_alert_engine/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Exchange struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Worker struct {
		MainAccount          string  `yaml:"main_account"`
		QuoteCoin            string  `yaml:"quote_coin"`
		SweepThreshold       float64 `yaml:"sweep_threshold"`
		SafetyBuffer         float64 `yaml:"safety_buffer"`
		HealthCheckIntervalS int     `yaml:"health_check_interval_s"`
		MaxSweepWorkers      int     `yaml:"max_sweep_workers"`
		MetricsPort          int     `yaml:"metrics_port"`
	} `yaml:"worker"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init storage", zap.Error(err))
	}

	// 4. Init Redis (queue + fan-out)
	rq := queue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	defer rq.Close()
	if err := rq.Ping(context.Background()); err != nil {
		log.Fatal("Redis unreachable", zap.Error(err))
	}

	// Warnings and errors also land in the external log list.
	log = logger.WithShipper(log, func(level, message string) {
		rq.PublishLog(context.Background(), level, message)
	})

	// 5. Init Exchange + Execution
	factory := exchange.NewGatewayFactory(cfg.Exchange.RESTEndpoint)
	transfers := usecase.NewTransferManager(factory, log)
	processor := usecase.NewAlertProcessor(store, factory, transfers, log, cfg.Worker.MainAccount, cfg.Worker.QuoteCoin)
	runner := usecase.NewTaskRunner(processor, store, rq, log)

	// 6. Init Realtime Streams
	streams := exchange.NewStreamFactory(cfg.Exchange.WSEndpoint, log)
	manager := usecase.NewStreamManager(store, factory, streams, transfers, store, rq, log, usecase.StreamConfig{
		MainAccount:         cfg.Worker.MainAccount,
		QuoteCoin:           cfg.Worker.QuoteCoin,
		SweepThreshold:      cfg.Worker.SweepThreshold,
		SafetyBuffer:        cfg.Worker.SafetyBuffer,
		HealthCheckInterval: time.Duration(cfg.Worker.HealthCheckIntervalS) * time.Second,
		MaxSweepWorkers:     cfg.Worker.MaxSweepWorkers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("Shutting down...")
		cancel()
	}()

	// 7. Metrics Endpoint
	if cfg.Worker.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// 8. Start Streams
	go func() {
		if err := manager.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("Stream manager stopped", zap.Error(err))
		}
	}()

	// 9. Consume Alerts (blocks until shutdown)
	if err := rq.Consume(ctx, runner.Run); err != nil && ctx.Err() == nil {
		log.Fatal("Queue consumer failed", zap.Error(err))
	}

	manager.Stop()
}
