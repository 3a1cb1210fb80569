package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string              `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath   string              `yaml:"storage_path" env:"STORAGE_PATH"`
	HTTP          HTTPConfig          `yaml:"http"`
	Auth          AuthConfig          `yaml:"auth"`
	VotePolicy    VotePolicyConfig    `yaml:"vote_policy"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
}

type HTTPConfig struct {
	Port int `yaml:"port" env-default:"8082"`
}

type AuthConfig struct {
	Secret string `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
}

type VotePolicyConfig struct {
	SingleVotePerVoter bool `yaml:"single_vote_per_voter" env:"SINGLE_VOTE_PER_VOTER" env-default:"true"`
}

type NotificationsConfig struct {
	SuppressSelfNotify bool          `yaml:"suppress_self_notify" env:"SUPPRESS_SELF_NOTIFY" env-default:"true"`
	RetryAttempts      int           `yaml:"retry_attempts" env-default:"3"`
	RetryDelay         time.Duration `yaml:"retry_delay" env-default:"2s"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval" env-default:"1m"`
}

func Load(path string) *Config {
	var config Config
	err := cleanenv.ReadConfig(path, &config)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &config
}
