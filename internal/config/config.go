// Package config provides application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Agent message gateway.
	GatewayURL     string
	GatewayTimeout time.Duration

	// Asset registration gateway.
	RegistryURL     string
	RegistryTimeout time.Duration

	// Cast definitions.
	AgentsFile string

	// Round pacing.
	RoundInterval time.Duration // default inter-round sleep; game config overrides
	TurnDelay     time.Duration // after a successful contestant turn
	ContestantGap time.Duration // between contestants
	ErrorCooldown time.Duration // base cooldown after a failed round
	MaxCooldown   time.Duration // backoff ceiling for repeated failures

	// Administrative shared secret for game-end and admin endpoints.
	AdminSecret string

	// Wallet references written onto the derived identity record.
	DerivedWalletAddress string
	DerivedWalletKey     string
}

// AgentSeed describes one cast member loaded from the agents file.
type AgentSeed struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       bool   `json:"host,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Credential string `json:"credential,omitempty"`

	IPID            string `json:"ip_id,omitempty"`
	WalletAddress   string `json:"wallet_address,omitempty"`
	WalletPublicKey string `json:"wallet_public_key,omitempty"`
	LicenseTermID   string `json:"license_term_id,omitempty"`
	LicenseTermURI  string `json:"license_term_uri,omitempty"`
	RegistrationTx  string `json:"registration_tx,omitempty"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/show.db"),

		GatewayURL:     getEnv("MESSAGE_GATEWAY_URL", "http://localhost:3000"),
		GatewayTimeout: getEnvDuration("MESSAGE_GATEWAY_TIMEOUT", 60*time.Second),

		RegistryURL:     getEnv("ASSET_REGISTRY_URL", ""),
		RegistryTimeout: getEnvDuration("ASSET_REGISTRY_TIMEOUT", 120*time.Second),

		AgentsFile: getEnv("AGENTS_FILE", "./agents.json"),

		RoundInterval: time.Duration(getEnvInt("AGENT_MESSAGE_INTERVAL_SECONDS", 5)) * time.Second,
		TurnDelay:     getEnvDuration("TURN_DELAY", 5*time.Second),
		ContestantGap: getEnvDuration("CONTESTANT_GAP", 1*time.Second),
		ErrorCooldown: getEnvDuration("ERROR_COOLDOWN", 25*time.Second),
		MaxCooldown:   getEnvDuration("MAX_COOLDOWN", 5*time.Minute),

		AdminSecret: getEnv("ADMIN_SECRET", ""),

		DerivedWalletAddress: getEnv("DERIVED_WALLET_ADDRESS", ""),
		DerivedWalletKey:     getEnv("DERIVED_WALLET_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("MESSAGE_GATEWAY_URL cannot be empty")
	}
	if c.AgentsFile == "" {
		return fmt.Errorf("AGENTS_FILE cannot be empty")
	}
	if c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET cannot be empty")
	}
	if c.RoundInterval <= 0 {
		return fmt.Errorf("AGENT_MESSAGE_INTERVAL_SECONDS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// LoadAgents reads and validates the cast file: exactly one host and at
// least one contestant.
func (c *Config) LoadAgents() (host AgentSeed, contestants []AgentSeed, err error) {
	data, err := os.ReadFile(c.AgentsFile)
	if err != nil {
		return AgentSeed{}, nil, fmt.Errorf("read agents file: %w", err)
	}

	var seeds []AgentSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return AgentSeed{}, nil, fmt.Errorf("parse agents file: %w", err)
	}

	hostCount := 0
	for _, seed := range seeds {
		if seed.ID == "" || seed.Name == "" {
			return AgentSeed{}, nil, fmt.Errorf("agent entries require id and name")
		}
		if seed.Host {
			host = seed
			hostCount++
		} else {
			contestants = append(contestants, seed)
		}
	}
	if hostCount != 1 {
		return AgentSeed{}, nil, fmt.Errorf("agents file must define exactly one host, found %d", hostCount)
	}
	if len(contestants) == 0 {
		return AgentSeed{}, nil, fmt.Errorf("agents file must define at least one contestant")
	}
	return host, contestants, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
