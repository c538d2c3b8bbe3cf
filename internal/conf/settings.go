// Package conf loads alarmpipe settings from YAML files and ALARMPIPE_*
// environment variables.
package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ALARMPIPE_MQTT_BROKER or ALARMPIPE_ENGINE_WORKERS.
const EnvPrefix = "ALARMPIPE"

// Settings is the full configuration tree.
type Settings struct {
	Log     LogSettings     `mapstructure:"log" yaml:"log"`
	MQTT    MQTTSettings    `mapstructure:"mqtt" yaml:"mqtt"`
	Engine  EngineSettings  `mapstructure:"engine" yaml:"engine"`
	Store   StoreSettings   `mapstructure:"store" yaml:"store"`
	Webhook WebhookSettings `mapstructure:"webhook" yaml:"webhook"`
	HTTP    HTTPSettings    `mapstructure:"http" yaml:"http"`
	Sentry  SentrySettings  `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"` // empty logs to stderr
	JSON       bool   `mapstructure:"json" yaml:"json"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// MQTTSettings configures the broker connection and the topics the engine
// consumes from and publishes to.
type MQTTSettings struct {
	Enabled        bool         `mapstructure:"enabled" yaml:"enabled"`
	Broker         string       `mapstructure:"broker" yaml:"broker"`
	ClientID       string       `mapstructure:"client_id" yaml:"client_id"`
	Username       string       `mapstructure:"username" yaml:"username"`
	Password       string       `mapstructure:"password" yaml:"password"`
	QoS            byte         `mapstructure:"qos" yaml:"qos"`
	ConnectTimeout Duration     `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReconnectDelay Duration     `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	Topics         TopicsConfig `mapstructure:"topics" yaml:"topics"`
}

type TopicsConfig struct {
	Metrics          string `mapstructure:"metrics" yaml:"metrics"`
	AlarmDefinitions string `mapstructure:"alarm_definitions" yaml:"alarm_definitions"`
	Alarms           string `mapstructure:"alarms" yaml:"alarms"`
	Notifications    string `mapstructure:"notifications" yaml:"notifications"`
}

type EngineSettings struct {
	// Workers > 1 splits each fan-out pass across that many goroutines.
	Workers          int      `mapstructure:"workers" yaml:"workers"`
	EventBuffer      int      `mapstructure:"event_buffer" yaml:"event_buffer"`
	// ControlDedupeTTL > 0 drops a control payload identical to the last one
	// seen for the same id within the TTL. Off by default: an unchanged
	// re-PUT must still replace the processor.
	ControlDedupeTTL Duration `mapstructure:"control_dedupe_ttl" yaml:"control_dedupe_ttl"`
}

type StoreSettings struct {
	Enabled          bool     `mapstructure:"enabled" yaml:"enabled"`
	Driver           string   `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	DSN              string   `mapstructure:"dsn" yaml:"dsn"`
	HistoryRetention Duration `mapstructure:"history_retention" yaml:"history_retention"`
}

type WebhookSettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	URL     string   `mapstructure:"url" yaml:"url"`
	Timeout Duration `mapstructure:"timeout" yaml:"timeout"`

	// RateLimit caps deliveries per second; 0 means unlimited.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type HTTPSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Log: LogSettings{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		MQTT: MQTTSettings{
			Enabled:        true,
			Broker:         "tcp://localhost:1883",
			ClientID:       "alarmpipe-threshold",
			QoS:            1,
			ConnectTimeout: Duration(10 * time.Second),
			ReconnectDelay: Duration(5 * time.Second),
			Topics: TopicsConfig{
				Metrics:          "metrics",
				AlarmDefinitions: "alarmdefinitions",
				Alarms:           "alarms",
				Notifications:    "notifications",
			},
		},
		Engine: EngineSettings{
			Workers:          1,
			EventBuffer:      1000,
		},
		Store: StoreSettings{
			Enabled:          true,
			Driver:           "sqlite",
			DSN:              "alarmpipe.db",
			HistoryRetention: Duration(30 * 24 * time.Hour),
		},
		Webhook: WebhookSettings{
			Timeout:   Duration(5 * time.Second),
			RateLimit: 10,
			Burst:     20,
		},
		HTTP: HTTPSettings{
			Enabled: true,
			Listen:  ":8080",
		},
	}
}

// setDefaults mirrors Default into v so environment variables can override
// keys that no config file mentions.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.connect_timeout", d.MQTT.ConnectTimeout.String())
	v.SetDefault("mqtt.reconnect_delay", d.MQTT.ReconnectDelay.String())
	v.SetDefault("mqtt.topics.metrics", d.MQTT.Topics.Metrics)
	v.SetDefault("mqtt.topics.alarm_definitions", d.MQTT.Topics.AlarmDefinitions)
	v.SetDefault("mqtt.topics.alarms", d.MQTT.Topics.Alarms)
	v.SetDefault("mqtt.topics.notifications", d.MQTT.Topics.Notifications)

	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.event_buffer", d.Engine.EventBuffer)
	v.SetDefault("engine.control_dedupe_ttl", d.Engine.ControlDedupeTTL.String())

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.history_retention", d.Store.HistoryRetention.String())

	v.SetDefault("webhook.enabled", d.Webhook.Enabled)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", d.Webhook.Timeout.String())
	v.SetDefault("webhook.rate_limit", d.Webhook.RateLimit)
	v.SetDefault("webhook.burst", d.Webhook.Burst)

	v.SetDefault("http.enabled", d.HTTP.Enabled)
	v.SetDefault("http.listen", d.HTTP.Listen)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
}

// Load reads settings from path, or searches the default locations for
// alarmpipe.yaml when path is empty. A missing file in the search path is
// not an error; a missing explicit path is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("alarmpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/alarmpipe")
		v.AddConfigPath("/etc/alarmpipe")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints and returns every problem found.
func Validate(s *Settings) error {
	var errs []error

	switch strings.ToLower(s.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", s.Log.Level))
	}

	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker: required when mqtt is enabled"))
		}
		if s.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", s.MQTT.QoS))
		}
		t := s.MQTT.Topics
		if t.Metrics == "" || t.AlarmDefinitions == "" || t.Alarms == "" {
			errs = append(errs, errors.New("mqtt.topics: metrics, alarm_definitions and alarms are required"))
		}
	}

	if s.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers: must be at least 1, got %d", s.Engine.Workers))
	}
	if s.Engine.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("engine.event_buffer: must be positive, got %d", s.Engine.EventBuffer))
	}

	if s.Store.Enabled {
		switch s.Store.Driver {
		case "sqlite", "mysql":
		default:
			errs = append(errs, fmt.Errorf("store.driver: must be sqlite or mysql, got %q", s.Store.Driver))
		}
		if s.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn: required when store is enabled"))
		}
	}

	if s.Webhook.Enabled {
		u, err := url.Parse(s.Webhook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook.url: invalid url %q", s.Webhook.URL))
		}
		if s.Webhook.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("webhook.rate_limit: must not be negative, got %v", s.Webhook.RateLimit))
		}
	}

	if s.HTTP.Enabled && s.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen: required when http is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
