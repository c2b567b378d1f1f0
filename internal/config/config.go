// Package config loads process configuration from the environment, with an
// optional YAML overlay file for local/dev runs.
package config

import (
	"fmt"
	"log"
	"os"
	"reflect"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds every tunable of the proxy: HTTP listener and routing,
// session capacity and idle reaping, SSE heartbeat cadence, CORS origins,
// and the SSH connect/keepalive timeouts.
type Settings struct {
	Port            int      `envconfig:"PORT" default:"8080"`
	BasePath        string   `envconfig:"BASE_PATH" default:""`
	IdleTimeoutMs   int64    `envconfig:"IDLE_TIMEOUT_MS" default:"600000"`
	SweepIntervalMs int64    `envconfig:"SWEEP_INTERVAL_MS" default:"30000"`
	MaxConnections  int      `envconfig:"MAX_CONNECTIONS" default:"100"`
	SSEHeartbeatMs  int64    `envconfig:"SSE_HEARTBEAT_MS" default:"15000"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	SSHConnectTimeoutMs    int64 `envconfig:"SSH_CONNECT_TIMEOUT_MS" default:"20000"`
	SSHKeepaliveIntervalMs int64 `envconfig:"SSH_KEEPALIVE_INTERVAL_MS" default:"15000"`
	SSHKeepaliveMaxMisses  int   `envconfig:"SSH_KEEPALIVE_MAX_MISSES" default:"3"`

	// ConfigFile, if set, points at a YAML file whose fields overlay the
	// defaults above before environment variables are applied. Env vars
	// always win, so orchestrator-injected overrides still work.
	ConfigFile string `envconfig:"CONFIG_FILE" default:""`
}

// normalizeBasePath ensures BasePath has a leading slash and no trailing one.
func (s *Settings) normalizeBasePath() {
	if s.BasePath == "" {
		return
	}
	if s.BasePath[0] != '/' {
		s.BasePath = "/" + s.BasePath
	}
	for len(s.BasePath) > 1 && s.BasePath[len(s.BasePath)-1] == '/' {
		s.BasePath = s.BasePath[:len(s.BasePath)-1]
	}
}

// Cfg is the process-wide configuration, populated by Load.
var Cfg Settings

// Load populates Cfg from the defaults, an optional YAML file and then
// environment variables, using bare (unprefixed) variable names.
func Load() {
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("config: failed to load environment: %v", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fromEnv := Cfg
		if err := loadYAMLOverlay(path, &Cfg); err != nil {
			log.Fatalf("config: failed to load %s: %v", path, err)
		}
		// Put back every field whose variable is set, so env vars win.
		dst, src := reflect.ValueOf(&Cfg).Elem(), reflect.ValueOf(fromEnv)
		for i := 0; i < dst.NumField(); i++ {
			if _, set := os.LookupEnv(dst.Type().Field(i).Tag.Get("envconfig")); set {
				dst.Field(i).Set(src.Field(i))
			}
		}
	}

	Cfg.normalizeBasePath()
}

func loadYAMLOverlay(path string, into *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
