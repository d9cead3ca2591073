// Package config loads the service configuration from YAML, a .env file and
// the environment, and resolves the role mapping from either entity schema.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"energyflow/internal/flows"
)

// Statistics backends.
const (
	SourceHomeAssistant = "homeassistant"
	SourceRecorder      = "recorder"
	SourceCSV           = "csv"
)

type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Config is the full service configuration.
type Config struct {
	LegacyEntities `yaml:",inline"`
	Entities       *Entities `yaml:"entities"`

	TimeZone        string        `yaml:"time_zone"`
	Live            bool          `yaml:"live"`
	Window          string        `yaml:"window"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`

	Source        string              `yaml:"source"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	RecorderPath  string              `yaml:"recorder_path"`
	InputDir      string              `yaml:"input_dir"`

	ListenAddr string     `yaml:"listen_addr"`
	MQTT       MQTTConfig `yaml:"mqtt"`
	LogLevel   string     `yaml:"log_level"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Live:            true,
		Window:          WindowToday,
		RefreshInterval: 5 * time.Minute,
		FetchTimeout:    30 * time.Second,
		Source:          SourceHomeAssistant,
		ListenAddr:      ":8080",
		LogLevel:        "info",
		MQTT: MQTTConfig{
			ClientID:        "energyflow",
			DiscoveryPrefix: "homeassistant",
			TopicPrefix:     "energyflow",
		},
	}
}

// Load reads the YAML file at path (optional) on top of the defaults, then
// applies environment overrides. envFiles are loaded with godotenv first;
// missing env files are not an error. Variables already set in the
// environment win over the env files.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading env files: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HomeAssistant.URL = getenvDefault("HA_URL", c.HomeAssistant.URL)
	c.HomeAssistant.Token = getenvDefault("HA_TOKEN", c.HomeAssistant.Token)
	c.MQTT.Broker = getenvDefault("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = getenvDefault("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenvDefault("MQTT_PASSWORD", c.MQTT.Password)
	c.ListenAddr = getenvDefault("ENERGYFLOW_LISTEN_ADDR", c.ListenAddr)
	c.HomeAssistant.URL = strings.TrimRight(c.HomeAssistant.URL, "/")
}

// Validate checks that the configuration can drive a pass.
func (c Config) Validate() error {
	if c.Entities != nil && !c.LegacyEntities.empty() {
		return errors.New("config: use either the flat *_entity keys or the entities block, not both")
	}
	roles, _ := c.Roles()
	if !roles.HasEnergyRole() {
		return errors.New("config: no energy entity configured")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if !validWindow(c.Window) {
		return fmt.Errorf("config: unknown window %q", c.Window)
	}
	if c.RefreshInterval <= 0 {
		return errors.New("config: refresh_interval must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("config: fetch_timeout must be positive")
	}

	switch c.Source {
	case SourceHomeAssistant:
		if c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "" {
			return errors.New("config: home assistant source needs HA_URL and HA_TOKEN")
		}
	case SourceRecorder:
		if c.RecorderPath == "" {
			return errors.New("config: recorder source needs recorder_path")
		}
	case SourceCSV:
		if c.InputDir == "" {
			return errors.New("config: csv source needs input_dir")
		}
	default:
		return fmt.Errorf("config: unknown source %q", c.Source)
	}
	return nil
}

// Roles translates whichever entity schema is in use into a RoleMapping and
// the per-role zero tolerances.
func (c Config) Roles() (RoleMapping, flows.Tolerances) {
	if c.Entities != nil {
		return c.Entities.mapping()
	}
	return c.LegacyEntities.mapping()
}

// Location returns the configured time zone, the local zone when unset.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SlogLevel maps log_level to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
