package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// SessionConfig - connection parameters for the coordinating server.
type SessionConfig struct {
	Host        string `json:"host"`
	ProxyPort   int    `json:"proxy_port"` // websocket command channel
	AppPort     int    `json:"app_port"`   // HTTPS token endpoint
	ClientID    string `json:"client_id"`
	InsecureTLS bool   `json:"insecure_tls"`
	BackoffMin  string `json:"backoff_min"`
	BackoffMax  string `json:"backoff_max"`
}

// EndpointConfig - one LED output endpoint.
type EndpointConfig struct {
	ID        string `json:"id"`
	Transport string `json:"transport"` // "opc" or "null"
	Addr      string `json:"addr"`
	Pixels    int    `json:"pixels"`
	Channel   uint8  `json:"channel"`
}

// StreamConfig - render/transmit loop tuning.
type StreamConfig struct {
	Endpoint         string  `json:"endpoint"`
	FPS              int     `json:"fps"`
	FailureThreshold int     `json:"failure_threshold"`
	ReopenBackoffMin string  `json:"reopen_backoff_min"`
	ReopenBackoffMax string  `json:"reopen_backoff_max"`
	ReopenAttempts   int     `json:"reopen_attempts"`
	RateLimit        float64 `json:"transmit_rate_limit"`
	RateBurst        int     `json:"transmit_rate_burst"`
	DialTimeout      string  `json:"dial_timeout"`
}

// MQTTConfig - optional status bridge and Home Assistant discovery.
type MQTTConfig struct {
	Enabled            bool   `json:"enabled"`
	Broker             string `json:"broker"` // tcp://IP:PORT
	Username           string `json:"username"`
	Password           string `json:"password"`
	ClientID           string `json:"client_id"`
	TopicPrefix        string `json:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// Config - top-level agent configuration.
type Config struct {
	Session   SessionConfig    `json:"session"`
	Endpoints []EndpointConfig `json:"endpoints"`
	Stream    StreamConfig     `json:"stream"`
	MQTT      MQTTConfig       `json:"mqtt"`

	ScriptsDir    string `json:"scripts_dir"`
	SchedulesFile string `json:"schedules_file"`
	LogLevel      string `json:"log_level"`
}

// Load reads the file, parses JSON, and applies defaults and validation.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.setDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	cfg := &Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Session.Host = strings.TrimSpace(c.Session.Host)
	c.Session.ClientID = strings.TrimSpace(c.Session.ClientID)
	c.Stream.Endpoint = strings.TrimSpace(c.Stream.Endpoint)
	c.ScriptsDir = strings.TrimSpace(c.ScriptsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
}

func (c *Config) setDefaults() {
	// Session defaults
	if c.Session.Host == "" {
		c.Session.Host = "localhost"
	}
	if c.Session.ProxyPort == 0 {
		c.Session.ProxyPort = 80
	}
	if c.Session.AppPort == 0 {
		c.Session.AppPort = 443
	}
	if c.Session.BackoffMin == "" {
		c.Session.BackoffMin = "1s"
	}
	if c.Session.BackoffMax == "" {
		c.Session.BackoffMax = "1m"
	}

	// Endpoint defaults: a Fadecandy-compatible OPC server on its usual port.
	if len(c.Endpoints) == 0 {
		c.Endpoints = []EndpointConfig{{
			ID:        "fadecandy",
			Transport: "opc",
			Addr:      "127.0.0.1:7890",
			Pixels:    512,
		}}
	}

	// Stream defaults
	if c.Stream.Endpoint == "" {
		c.Stream.Endpoint = c.Endpoints[0].ID
	}
	if c.Stream.FPS <= 0 {
		c.Stream.FPS = 30
	}
	if c.Stream.FailureThreshold <= 0 {
		c.Stream.FailureThreshold = 5
	}
	if c.Stream.ReopenBackoffMin == "" {
		c.Stream.ReopenBackoffMin = "500ms"
	}
	if c.Stream.ReopenBackoffMax == "" {
		c.Stream.ReopenBackoffMax = "30s"
	}
	if c.Stream.ReopenAttempts <= 0 {
		c.Stream.ReopenAttempts = 10
	}
	if c.Stream.RateLimit <= 0 {
		c.Stream.RateLimit = float64(c.Stream.FPS) * 2
	}
	if c.Stream.RateBurst <= 0 {
		c.Stream.RateBurst = c.Stream.FPS
	}
	if c.Stream.DialTimeout == "" {
		c.Stream.DialTimeout = "5s"
	}

	// File defaults
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// MQTT defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "lumen-agent"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "lumen"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) validate() error {
	found := false
	for _, ep := range c.Endpoints {
		if ep.ID == c.Stream.Endpoint {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config error: stream endpoint %q is not in the endpoint list", c.Stream.Endpoint)
	}

	for name, v := range map[string]string{
		"session.backoff_min":       c.Session.BackoffMin,
		"session.backoff_max":       c.Session.BackoffMax,
		"stream.reopen_backoff_min": c.Stream.ReopenBackoffMin,
		"stream.reopen_backoff_max": c.Stream.ReopenBackoffMax,
		"stream.dial_timeout":       c.Stream.DialTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config error: '%s' is not a valid duration: %w", name, err)
		}
	}
	return nil
}
