package utils

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker               string        `yaml:"broker"`                 // MQTT broker address
		ClientID             string        `yaml:"client_id"`              // MQTT client ID prefix
		Username             string        `yaml:"username"`               // Broker username
		Password             string        `yaml:"password"`               // Broker password
		CACertificate        string        `yaml:"ca_certificate"`         // Path to the CA certificate, empty for plain TCP
		ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"` // Delay between connection attempts
		KeepAlive            time.Duration `yaml:"keep_alive"`             // MQTT keep-alive period
	} `yaml:"mqtt"`

	TopicPrefix string `yaml:"topic_prefix"` // Per-deployment topic prefix
	SeedFile    string `yaml:"seed_file"`    // Optional JSON array of drones registered at startup

	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Human readable console output instead of JSON
	} `yaml:"log"`

	Services struct {
		Coordinator struct {
			PublishTimeout time.Duration `yaml:"publish_timeout"` // Max wait for broker acknowledgment of a command
		} `yaml:"coordinator"`

		Heartbeat struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable heartbeat service
			Interval time.Duration `yaml:"interval"` // Interval between heartbeats
			QOS      int           `yaml:"qos"`      // MQTT QoS level for heartbeat messages
		} `yaml:"heartbeat"`

		BaseStation struct {
			Enabled           bool          `yaml:"enabled"`         // Enable/disable vessel position publishing
			Interval          time.Duration `yaml:"interval"`        // Interval between position fixes
			QOS               int           `yaml:"qos"`             // MQTT QoS level for position messages
			GPSDevicePort     string        `yaml:"gps_device_port"` // Serial port of the vessel GPS
			GPSDeviceBaudRate int           `yaml:"gps_baud_rate"`   // Baud rate of the vessel GPS
		} `yaml:"base_station"`

		Gateway struct {
			Enabled bool   `yaml:"enabled"` // Enable/disable the HTTP/WebSocket gateway
			Addr    string `yaml:"addr"`    // Listen address
		} `yaml:"gateway"`

		Assistant struct {
			Enabled bool   `yaml:"enabled"`  // Enable/disable the assistant tool server
			Addr    string `yaml:"addr"`     // Listen address
			BaseURL string `yaml:"base_url"` // Public base URL advertised to SSE clients
		} `yaml:"assistant"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and environment overrides, and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "drone-coordinator"
	}
	if c.MQTT.ConnectRetryInterval == 0 {
		c.MQTT.ConnectRetryInterval = 5 * time.Second
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30 * time.Second
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = constants.DefaultTopicPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Services.Coordinator.PublishTimeout == 0 {
		c.Services.Coordinator.PublishTimeout = constants.DefaultPublishTimeout
	}
	if c.Services.Heartbeat.Interval == 0 {
		c.Services.Heartbeat.Interval = 30 * time.Second
	}
	if c.Services.BaseStation.Interval == 0 {
		c.Services.BaseStation.Interval = 10 * time.Second
	}
	if c.Services.BaseStation.GPSDeviceBaudRate == 0 {
		c.Services.BaseStation.GPSDeviceBaudRate = 4800
	}
	if c.Services.Gateway.Addr == "" {
		c.Services.Gateway.Addr = ":8080"
	}
	if c.Services.Assistant.Addr == "" {
		c.Services.Assistant.Addr = ":8090"
	}
}

// applyEnvOverrides lets deployments inject the endpoint and credentials without editing the file.
func (c *Config) applyEnvOverrides() {
	c.MQTT.Broker = getEnv("COORDINATOR_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = getEnv("COORDINATOR_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("COORDINATOR_MQTT_PASSWORD", c.MQTT.Password)
	c.TopicPrefix = getEnv("COORDINATOR_TOPIC_PREFIX", c.TopicPrefix)
	c.Services.Gateway.Addr = getEnv("COORDINATOR_HTTP_ADDR", c.Services.Gateway.Addr)
	c.Log.Level = getEnv("COORDINATOR_LOG_LEVEL", c.Log.Level)
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("mqtt broker must be set")
	}
	if strings.Trim(c.TopicPrefix, "/ ") == "" {
		return errors.New("topic prefix must not be empty")
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return errors.New("topic prefix must not contain wildcards")
	}
	if c.Services.BaseStation.Enabled && c.Services.BaseStation.GPSDevicePort == "" {
		return errors.New("base station requires gps_device_port")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
