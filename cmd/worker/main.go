package main

import (
	"log"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/tasks"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/service"
	"github.com/gnostr-org/signerd/storage"
	"github.com/gnostr-org/signerd/storage/postgres"
)

func main() {
	cfg, err := config.ReadConfig("config")
	if err != nil {
		log.Fatalf("fail to read config, err: %v", err)
	}

	redisAddr := cfg.Redis.Host + ":" + cfg.Redis.Port
	redisStorage, err := storage.NewRedisStorage(*cfg)
	if err != nil {
		log.Fatalf("fail to connect to redis, err: %v", err)
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

	sdClient, err := statsd.New(cfg.Datadog.Host + ":" + cfg.Datadog.Port)
	if err != nil {
		log.Fatalf("fail to create statsd client, err: %v", err)
	}

	worker := service.NewWorker(*cfg, redisStorage, db, backend, types.PublicKey(cfg.Signer.Identity), sdClient)
	defer worker.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: cfg.Redis.User,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	logrus.WithFields(logrus.Fields{
		"redis": redisAddr,
	}).Info("starting worker")

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeThresholdSign, worker.HandleThresholdSign)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
