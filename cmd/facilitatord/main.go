// Command facilitatord runs the x402 Tron facilitator service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	facilitator "github.com/vitwit/x402-tron-facilitator"
	"github.com/vitwit/x402-tron-facilitator/clients"
	"github.com/vitwit/x402-tron-facilitator/config"
	"github.com/vitwit/x402-tron-facilitator/events"
	"github.com/vitwit/x402-tron-facilitator/feequote"
	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/secrets"
	"github.com/vitwit/x402-tron-facilitator/server"
	"github.com/vitwit/x402-tron-facilitator/settlement"
	"github.com/vitwit/x402-tron-facilitator/signer"
	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
)

func main() {
	configPath := flag.String("config", "facilitator.config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, secrets.EnvResolver{})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.NewZapLogger(cfg.Logging.Level)
	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	records, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to build settlement store: %v", err)
	}

	opts := []facilitator.Option{
		facilitator.WithLogger(zlog),
		facilitator.WithMetrics(recorder),
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		if err != nil {
			log.Fatalf("failed to start kafka publisher: %v", err)
		}
		publisher = kafka
		opts = append(opts, facilitator.WithEventPublisher(kafka))
	}
	defer publisher.Close()

	fac := facilitator.New(records, settlement.Config{
		RetryFailed:  cfg.Settlement.RetryFailed,
		PollInterval: cfg.Settlement.PollInterval,
		PollBudget:   cfg.Settlement.PollBudget,
	}, opts...)
	defer fac.Close()

	for name, nc := range cfg.Networks {
		network := types.Network(name)

		localSigner, err := signer.NewLocalSigner(nc.PrivateKey)
		if err != nil {
			log.Fatalf("network %s: %v", name, err)
		}

		clientOpts := []clients.TronGridOption{
			clients.WithClientLogger(zlog),
			clients.WithClientMetrics(recorder),
		}
		if nc.FeeLimit > 0 {
			clientOpts = append(clientOpts, clients.WithFeeLimit(nc.FeeLimit))
		}
		client, err := clients.NewTronGridClient(network, nc.RPCUrl, nc.APIKey, localSigner, clientOpts...)
		if err != nil {
			log.Fatalf("network %s: %v", name, err)
		}

		err = fac.AddNetwork(network, facilitator.NetworkRegistration{
			Client: client,
			Fees: feequote.NetworkFees{
				BaseFees: nc.BaseFees,
				PayTo:    nc.FeeRecipient,
			},
		})
		if err != nil {
			log.Fatalf("network %s: %v", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(fac, cfg.RateLimit, zlog)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// Pick up settlements left submitted by a previous run.
		return fac.ResumeSubmitted(ctx)
	})
	group.Go(func() error {
		return srv.Listen(cfg.Server.Host, cfg.Server.Port)
	})
	if cfg.Monitoring.Port > 0 {
		group.Go(func() error {
			return server.ServeMetrics(cfg.Monitoring.Port, registry)
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})

	if err := group.Wait(); err != nil {
		zlog.Error("facilitator stopped", map[string]any{"error": err.Error()})
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.Database.URL != "":
		return store.NewPostgresStore(cfg.Database.URL, store.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.MaxLifeTime,
		})
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return store.NewRedisStore(client), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
