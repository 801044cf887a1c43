package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host            string
		Port            int64
		BackupsFilePath string
	}

	Database struct {
		DSN string
	}

	Redis struct {
		Host     string
		Port     string
		User     string
		Password string
		DB       int
	}

	Relay struct {
		Server string
	}

	Signer struct {
		Identity          string
		SecretStorePath   string
		Passphrase        string
		AutoApproveKinds  []int
		SessionTTLSeconds int64
	}

	RateLimit struct {
		MaxAttempts        uint32
		WindowSeconds      uint32
		BaseLockoutSeconds uint32
		StateFile          string
	}

	Signing struct {
		TimeoutSeconds int64
	}

	BlockStorage struct {
		Host      string
		Region    string
		AccessKey string
		SecretKey string
		Bucket    string
	}

	Datadog struct {
		Host string
		Port string
	}
}

// ReadConfig loads <name>.(json|yaml|toml) from the working directory,
// with environment variables (SERVER_PORT, REDIS_HOST, ...) taking
// precedence.
func ReadConfig(name string) (*Config, error) {
	viper.SetConfigName(name)
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("Server.Host", "0.0.0.0")
	viper.SetDefault("Server.Port", 8080)
	viper.SetDefault("Redis.Host", "127.0.0.1")
	viper.SetDefault("Redis.Port", "6379")
	viper.SetDefault("Signing.TimeoutSeconds", 300)
	viper.SetDefault("Signer.SessionTTLSeconds", 900)
	viper.SetDefault("Datadog.Host", "127.0.0.1")
	viper.SetDefault("Datadog.Port", "8125")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
