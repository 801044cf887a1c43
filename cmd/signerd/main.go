package main

import (
	"log"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"

	"github.com/gnostr-org/signerd/api"
	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/bunker"
	"github.com/gnostr-org/signerd/internal/clientsession"
	"github.com/gnostr-org/signerd/internal/history"
	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/ratelimit"
	"github.com/gnostr-org/signerd/relay"
	"github.com/gnostr-org/signerd/storage"
	"github.com/gnostr-org/signerd/storage/postgres"
)

func main() {
	cfg, err := config.ReadConfig("config")
	if err != nil {
		log.Fatalf("fail to read config, err: %v", err)
	}

	redisStorage, err := storage.NewRedisStorage(*cfg)
	if err != nil {
		log.Fatalf("fail to connect to redis, err: %v", err)
	}
	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("fail to close asynq client, err: %v", err)
		}
	}()
	inspector := asynq.NewInspector(redisOpts)

	sdClient, err := statsd.New(cfg.Datadog.Host + ":" + cfg.Datadog.Port)
	if err != nil {
		log.Fatalf("fail to create statsd client, err: %v", err)
	}

	blockStorage, err := storage.NewBlockStorage(*cfg)
	if err != nil {
		log.Fatalf("fail to create block storage, err: %v", err)
	}

	db, err := postgres.NewPostgresBackend(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("fail to connect to database, err: %v", err)
	}

	secrets, err := keys.NewFileSecretStore(cfg.Signer.SecretStorePath, cfg.Signer.Passphrase)
	if err != nil {
		log.Fatalf("fail to open secret store, err: %v", err)
	}
	backend := keys.NewSecp256k1Backend(secrets)

	limiter := ratelimit.New(ratelimit.Config{
		MaxAttempts:        cfg.RateLimit.MaxAttempts,
		WindowSeconds:      cfg.RateLimit.WindowSeconds,
		BaseLockoutSeconds: cfg.RateLimit.BaseLockoutSeconds,
		StateFile:          cfg.RateLimit.StateFile,
	})
	sessions := clientsession.New(time.Duration(cfg.Signer.SessionTTLSeconds)*time.Second, redisStorage)
	approver := bunker.NewChannelApprover(0)

	bunkerService := bunker.NewService(
		backend,
		secrets,
		limiter,
		sessions,
		history.NewStore(db),
		relay.NewClient(cfg.Relay.Server),
		approver,
		bunker.Config{
			AutoApproveKinds: cfg.Signer.AutoApproveKinds,
			SessionTTL:       time.Duration(cfg.Signer.SessionTTLSeconds) * time.Second,
		},
	)

	server := api.NewServer(*cfg, redisStorage, client, inspector, sdClient, blockStorage, db, bunkerService, approver)
	if err := server.StartServer(); err != nil {
		log.Fatalf("fail to start server, err: %v", err)
	}
}
