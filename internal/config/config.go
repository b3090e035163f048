// Package config provides widget configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chat-widget/internal/env"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
)

// Config holds all widget configuration.
type Config struct {
	APIURL      string        `yaml:"apiUrl"`
	WSURL       string        `yaml:"wsUrl"`
	AccessToken string        `yaml:"accessToken"`
	WithForm    bool          `yaml:"withForm"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	Workers     int           `yaml:"workers"`
	LogLevel    string        `yaml:"logLevel"`
	Store       StoreConfig   `yaml:"store"`
	Texts       Texts         `yaml:"texts"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	RedisURL     string `yaml:"redisUrl"`
	RedisPass    string `yaml:"redisPass"`
	DynamoTable  string `yaml:"dynamoTable"`
	DynamoRegion string `yaml:"dynamoRegion"`
	DynamoURL    string `yaml:"dynamoEndpoint"`
	AWSID        string `yaml:"awsId"`
	AWSSecret    string `yaml:"awsSecret"`
	AWSToken     string `yaml:"awsToken"`
	Namespace    string `yaml:"namespace"`
}

// Texts are the notices shown by the front end.
type Texts struct {
	NoAgentConnected  string `yaml:"noAgentConnected"`
	AgentDisconnected string `yaml:"agentDisconnected"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		GracePeriod: 5 * time.Second,
		HTTPTimeout: 15 * time.Second,
		Workers:     4,
		LogLevel:    "info",
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    "./data/chat-widget.db",
		},
		Texts: Texts{
			NoAgentConnected:  "Waiting for an agent to join the conversation...",
			AgentDisconnected: "The agent has closed this conversation.",
		},
	}
}

// Load reads configuration from an optional YAML file, a .env file and
// environment variables, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIURL = env.GetOrDefault(env.APIURL, cfg.APIURL)
	cfg.WSURL = env.GetOrDefault(env.WSURL, cfg.WSURL)
	cfg.AccessToken = env.GetOrDefault(env.AccessToken, cfg.AccessToken)
	cfg.WithForm = env.GetBool(env.WithForm, cfg.WithForm)
	cfg.GracePeriod = env.GetDuration(env.GracePeriod, cfg.GracePeriod)
	cfg.HTTPTimeout = env.GetDuration(env.HTTPTimeout, cfg.HTTPTimeout)
	cfg.Workers = env.GetInt(env.Workers, cfg.Workers)
	cfg.LogLevel = env.GetOrDefault(env.LogLevel, cfg.LogLevel)

	cfg.Store.Backend = env.GetOrDefault(env.StoreBackend, cfg.Store.Backend)
	cfg.Store.Path = env.GetOrDefault(env.StorePath, cfg.Store.Path)
	cfg.Store.RedisURL = env.GetOrDefault(env.ChatRedisURL, cfg.Store.RedisURL)
	cfg.Store.RedisPass = env.GetOrDefault(env.ChatRedisPass, cfg.Store.RedisPass)
	cfg.Store.DynamoTable = env.GetOrDefault(env.DynamoDBTable, cfg.Store.DynamoTable)
	cfg.Store.DynamoRegion = env.GetOrDefault(env.AWSRegion, cfg.Store.DynamoRegion)
	cfg.Store.DynamoURL = env.GetOrDefault(env.DynamoDBEndpoint, cfg.Store.DynamoURL)
	cfg.Store.AWSID = env.GetOrDefault(env.AWSID, cfg.Store.AWSID)
	cfg.Store.AWSSecret = env.GetOrDefault(env.AWSSecret, cfg.Store.AWSSecret)
	cfg.Store.AWSToken = env.GetOrDefault(env.AWSToken, cfg.Store.AWSToken)

	cfg.Texts.NoAgentConnected = env.GetOrDefault(env.NoAgentMessage, cfg.Texts.NoAgentConnected)
	cfg.Texts.AgentDisconnected = env.GetOrDefault(env.AgentDisconnectedMessage, cfg.Texts.AgentDisconnected)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("%s cannot be empty", env.APIURL)
	}
	if strings.TrimSpace(c.WSURL) == "" {
		return fmt.Errorf("%s cannot be empty", env.WSURL)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("%s cannot be empty", env.AccessToken)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%s must be > 0", env.GracePeriod)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%s must be > 0", env.Workers)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%s cannot be empty for the sqlite store", env.StorePath)
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%s cannot be empty for the redis store", env.ChatRedisURL)
		}
	case StoreDynamoDB:
		if c.Store.DynamoTable == "" {
			return fmt.Errorf("%s cannot be empty for the dynamodb store", env.DynamoDBTable)
		}
		if c.Store.DynamoRegion == "" {
			return fmt.Errorf("%s cannot be empty for the dynamodb store", env.AWSRegion)
		}
	default:
		return fmt.Errorf("unknown %s %q", env.StoreBackend, c.Store.Backend)
	}
	return nil
}

// StoreNamespace scopes persisted keys to the configured access token unless
// a namespace is set explicitly.
func (c *Config) StoreNamespace() string {
	if c.Store.Namespace != "" {
		return c.Store.Namespace
	}
	return c.AccessToken
}
