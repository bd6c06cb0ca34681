// Package config loads process configuration from the environment.
// A .env file is honored in development via godotenv (loaded in main).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the full process configuration.
type Config struct {
	// HTTP listen address for the webhook, health and metrics endpoints.
	ListenAddr string
	// UDP port shared by all telephony legs (ICE UDP mux).
	RTCUDPPort int

	// Webhook verification.
	VerifyToken   string
	WebhookSecret string

	// Call-control API.
	CallControlBaseURL string
	CallControlToken   string
	LineID             string

	// Voice-agent provisioning. An empty AgentAPIKey means no agent
	// credential is configured and inbound calls are rejected outright.
	AgentAPIBaseURL   string
	AgentAPIKey       string
	AgentSystemPrompt string
	AgentVoice        string
	AgentSampleRate   int

	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		RTCUDPPort:         9000,
		VerifyToken:        os.Getenv("VERIFY_TOKEN"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		CallControlBaseURL: getEnv("CALL_CONTROL_BASE_URL", "https://graph.example.com/v1"),
		CallControlToken:   os.Getenv("CALL_CONTROL_TOKEN"),
		LineID:             os.Getenv("LINE_ID"),
		AgentAPIBaseURL:    getEnv("AGENT_API_BASE_URL", "https://agent.example.com"),
		AgentAPIKey:        os.Getenv("AGENT_API_KEY"),
		AgentSystemPrompt:  os.Getenv("AGENT_SYSTEM_PROMPT"),
		AgentVoice:         getEnv("AGENT_VOICE", "alloy"),
		AgentSampleRate:    16000,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if v := os.Getenv("RTC_UDP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RTC_UDP_PORT %q: %w", v, err)
		}
		cfg.RTCUDPPort = port
	}
	if v := os.Getenv("AGENT_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AGENT_SAMPLE_RATE %q: %w", v, err)
		}
		cfg.AgentSampleRate = rate
	}
	return cfg, nil
}

// HasAgentCredential reports whether a voice-agent credential is configured.
func (c *Config) HasAgentCredential() bool {
	return c.AgentAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
