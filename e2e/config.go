package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_URL is the base URL of a running relay, e.g. http://localhost:5000. Empty skips the suites.
	RelayURL  string `envconfig:"RELAY_URL"`
	GRPCAddr  string `envconfig:"RELAY_GRPC_ADDR" default:"localhost:5001"`
	JWTSecret string `envconfig:"RELAY_JWT_SECRET"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
