package app

import (
	"time"

	"github.com/joeshaw/envdecode"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Addr            string        `env:"ADDR,default=:8080"`
	DatabaseURL     string        `env:"POSTGRES_DB_URI,required"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME,default=24h"`
}

// LoadConfig decodes the configuration from the process environment.
// POSTGRES_DB_URI has no default: without it the process refuses to start.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
