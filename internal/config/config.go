package config

import (
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL      string `yaml:"ttl"`
		SeedFile string `yaml:"seedFile"`
	} `yaml:"quiz"`
	Attempts struct {
		Tick          string `yaml:"tick"`
		SweepInterval string `yaml:"sweepInterval"`
	} `yaml:"attempts"`
	Auth struct {
		JWTSecret     string `yaml:"jwtSecret"`
		Issuer        string `yaml:"issuer"`
		TrustedHeader string `yaml:"trustedHeader"`
	} `yaml:"auth"`
	Notify struct {
		WebhookURL   string `yaml:"webhookUrl"`
		Timeout      string `yaml:"timeout"`
		Retries      int    `yaml:"retries"`
		RedisChannel string `yaml:"redisChannel"`
	} `yaml:"notify"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Defaults returns the values used for anything the YAML file leaves empty.
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Quiz.TTL = "10m"
	cfg.Attempts.Tick = "1s"
	cfg.Attempts.SweepInterval = "30s"
	cfg.Auth.Issuer = "quiz-attempt-service"
	cfg.Notify.Timeout = "5s"
	cfg.Notify.RedisChannel = "quiz.completed"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads YAML config from path and fills unset fields from Defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := mergo.Merge(&cfg, Defaults()); err != nil {
		return cfg, errors.Wrap(err, "apply config defaults")
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (cfg Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
