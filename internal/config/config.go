// Package config loads the process-wide YAML configuration, applies a
// .env file discovered by walking up from the working directory, and
// layers environment-variable overrides for broker credentials on top
// — the same three-stage load the teacher repo's util.LoadConfig does
// for a single YAML file, extended with the .env and override stages
// spec.md §6 requires.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file at path and unmarshals it into a new T.
func Load[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDotEnv searches dir and its ancestors for a .env file and injects
// every KEY=VALUE line it finds into the process environment, skipping
// keys already set and lines starting with '#'. It returns the path of
// the .env file applied, or "" if none was found.
func LoadDotEnv(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			if err := applyDotEnv(candidate); err != nil {
				return "", err
			}
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", nil
		}
		abs = parent
	}
}

func applyDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// BrokerConfig holds the connection parameters for one SWIM broker
// session (either the SFDPS or the STDDS endpoint).
type BrokerConfig struct {
	Host           string        `yaml:"host"`
	VPN            string        `yaml:"vpn"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Queue          string        `yaml:"queue"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// Config is the process-wide configuration.
type Config struct {
	SFDPS BrokerConfig `yaml:"sfdps"`
	STDDS BrokerConfig `yaml:"stdds"`

	Bus struct {
		SubscriberCapacity int `yaml:"subscriber_capacity"`
	} `yaml:"bus"`

	Fanout struct {
		ClientQueueCapacity int           `yaml:"client_queue_capacity"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
	} `yaml:"fanout"`

	FlightState struct {
		StaleTimeout    time.Duration `yaml:"stale_timeout"`
		SweepInterval   time.Duration `yaml:"sweep_interval"`
		EventLogDepth   int           `yaml:"event_log_depth"`
		HandoffCoolDown time.Duration `yaml:"handoff_cooldown"`
	} `yaml:"flight_state"`

	Identity struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"identity"`

	HTTP struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"http"`
}

// Default returns the configuration's documented defaults, applied before
// a YAML file or environment overrides are layered on top.
func Default() *Config {
	cfg := &Config{}
	cfg.SFDPS.Host = "tls://sfdps.swim.faa.gov:55443"
	cfg.SFDPS.ReconnectDelay = 5 * time.Second
	cfg.STDDS.Host = "tls://stdds.swim.faa.gov:55443"
	cfg.STDDS.ReconnectDelay = 5 * time.Second
	cfg.Bus.SubscriberCapacity = 10000
	cfg.Fanout.ClientQueueCapacity = 5000
	cfg.Fanout.WriteTimeout = 5 * time.Second
	cfg.FlightState.StaleTimeout = 10 * time.Minute
	cfg.FlightState.SweepInterval = 60 * time.Second
	cfg.FlightState.EventLogDepth = 50
	cfg.FlightState.HandoffCoolDown = 60 * time.Second
	cfg.Identity.TTL = 5 * time.Minute
	cfg.HTTP.ListenAddr = ":5001"
	return cfg
}

// ApplyEnvOverrides layers SFDPS_* and SCDSCONNECTION__* environment
// variables over the loaded configuration, per spec.md §6.
func (c *Config) ApplyEnvOverrides() {
	overrideString(&c.SFDPS.Host, "SFDPS_HOST")
	overrideString(&c.SFDPS.VPN, "SFDPS_VPN")
	overrideString(&c.SFDPS.Username, "SFDPS_USER")
	overrideString(&c.SFDPS.Password, "SFDPS_PASS")
	overrideString(&c.SFDPS.Queue, "SFDPS_QUEUE")

	overrideString(&c.STDDS.Host, "SCDSCONNECTION__HOST")
	overrideString(&c.STDDS.VPN, "SCDSCONNECTION__MESSAGEVPN")
	overrideString(&c.STDDS.Username, "SCDSCONNECTION__USERNAME")
	overrideString(&c.STDDS.Password, "SCDSCONNECTION__PASSWORD")
	overrideString(&c.STDDS.Queue, "SCDSCONNECTION__QUEUENAME")

	if addr, ok := os.LookupEnv("SWIMFEED_HTTP_ADDR"); ok && addr != "" {
		c.HTTP.ListenAddr = addr
	}
}

// Validate returns an error naming the first missing required credential.
// The name argument labels the broker in the error message.
func (b BrokerConfig) Validate(name string) error {
	if b.Host == "" {
		return fmt.Errorf("%s: missing host", name)
	}
	if b.Username == "" {
		return fmt.Errorf("%s: missing username", name)
	}
	if b.Password == "" {
		return fmt.Errorf("%s: missing password", name)
	}
	if b.Queue == "" {
		return fmt.Errorf("%s: missing queue", name)
	}
	return nil
}

func overrideString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}
