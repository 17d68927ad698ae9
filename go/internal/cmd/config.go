package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gameboard/gamesync/go/internal/hub"
	"github.com/gameboard/gamesync/go/internal/session"
)

// HubTransport selects how backend push events reach the merger.
type HubTransport string

const (
	TransportWebSocket HubTransport = "websocket"
	TransportNATS      HubTransport = "nats"
)

type Config struct {
	Backend struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"backend"`

	Hub struct {
		Transport HubTransport        `yaml:"transport"`
		WebSocket hub.WebSocketConfig `yaml:"websocket"`
		NATS      hub.NATSConfig      `yaml:"nats"`
	} `yaml:"hub"`

	Merger     session.MergerConfig     `yaml:"merger"`
	Controller session.ControllerConfig `yaml:"controller"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func defaultConfig() *Config {
	config := &Config{}
	config.Hub.Transport = TransportWebSocket
	config.Hub.WebSocket = hub.DefaultWebSocketConfig()
	config.Hub.NATS = hub.DefaultNATSConfig()
	config.Merger = session.DefaultMergerConfig()
	config.Controller = session.DefaultControllerConfig()
	config.Server.Port = "8080"
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the optional YAML config file and applies environment
// overrides on top. Secrets stay out of the file.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Backend.URL = getEnv("GAMEBOARD_API_URL", config.Backend.URL)
	config.Backend.Token = getEnv("GAMEBOARD_API_TOKEN", config.Backend.Token)
	config.Hub.WebSocket.URL = getEnv("GAMEBOARD_HUB_URL", config.Hub.WebSocket.URL)
	config.Hub.NATS.URL = getEnv("NATS_URL", config.Hub.NATS.URL)
	config.Server.Port = getEnv("PORT", config.Server.Port)

	if seconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 0); seconds > 0 {
		config.Merger.PollInterval = time.Duration(seconds) * time.Second
	}

	if config.Backend.URL == "" {
		return nil, fmt.Errorf("backend url is required (GAMEBOARD_API_URL)")
	}

	return config, nil
}
