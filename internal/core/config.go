package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/commandstructure"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Type             string        `yaml:"type"`
	ConnectionString string        `yaml:"connectionString"`
	StatementTimeout time.Duration `yaml:"statementTimeout"`
}

// Storage selects the object store that holds the rendition bytes.
type Storage struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// Gate selects the per-parent ingestion gate.
type Gate struct {
	Type      string        `yaml:"type"`
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"keyPrefix"`
}

type Media struct {
	ThumbnailWidth    int                              `yaml:"thumbnailWidth"`
	PrimaryMaxWidth   int                              `yaml:"primaryMaxWidth"`
	PrimaryMaxHeight  int                              `yaml:"primaryMaxHeight"`
	HighResThreshold  int                              `yaml:"highResThreshold"`
	SVGFallbackWidth  int                              `yaml:"svgFallbackWidth"`
	SVGFallbackHeight int                              `yaml:"svgFallbackHeight"`
	Commands          []commandstructure.CommandConfig `yaml:"commands"`
}

type Ordering struct {
	// AdjacencyFallback defaults to true while legacy rows without an
	// explicit high-res link may exist.
	AdjacencyFallback *bool `yaml:"adjacencyFallback"`
}

type ServiceConfig struct {
	Port     int      `yaml:"port"`
	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	Gate     Gate     `yaml:"gate"`
	Media    Media    `yaml:"media"`
	Ordering Ordering `yaml:"ordering"`
}

// AdjacencyFallback reports the effective ordering.adjacencyFallback value.
func (c *ServiceConfig) AdjacencyFallback() bool {
	return c.Ordering.AdjacencyFallback == nil || *c.Ordering.AdjacencyFallback
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" && c.Database.Type == "sqlite" {
		c.Database.ConnectionString = "gallerystore.db"
	}
	if c.Database.StatementTimeout == 0 {
		c.Database.StatementTimeout = 5 * time.Second
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Gate.Type == "" {
		c.Gate.Type = "local"
	}
	if c.Gate.TTL == 0 {
		c.Gate.TTL = 30 * time.Second
	}
	if c.Media.ThumbnailWidth == 0 {
		c.Media.ThumbnailWidth = 200
	}
	if c.Media.PrimaryMaxWidth == 0 {
		c.Media.PrimaryMaxWidth = 1600
	}
	if c.Media.PrimaryMaxHeight == 0 {
		c.Media.PrimaryMaxHeight = 1600
	}
	if c.Media.HighResThreshold == 0 {
		c.Media.HighResThreshold = 2000
	}
	if c.Media.SVGFallbackWidth == 0 {
		c.Media.SVGFallbackWidth = 1024
	}
	if c.Media.SVGFallbackHeight == 0 {
		c.Media.SVGFallbackHeight = 1024
	}
}

// Validate checks a configuration after defaults have been applied.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("database.connectionString is required for %s", c.Database.Type)
	}
	if c.Database.StatementTimeout < 0 {
		return fmt.Errorf("database.statementTimeout must not be negative")
	}

	switch c.Storage.Type {
	case "memory":
	case "badger":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for gcs")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.Gate.Type {
	case "local":
	case "redis":
		if c.Gate.RedisAddr == "" {
			return fmt.Errorf("gate.redisAddr is required for redis")
		}
	default:
		return fmt.Errorf("unsupported gate type: %s", c.Gate.Type)
	}
	if c.Gate.TTL < 0 {
		return fmt.Errorf("gate.ttl must not be negative")
	}

	dims := map[string]int{
		"media.thumbnailWidth":    c.Media.ThumbnailWidth,
		"media.primaryMaxWidth":   c.Media.PrimaryMaxWidth,
		"media.primaryMaxHeight":  c.Media.PrimaryMaxHeight,
		"media.highResThreshold":  c.Media.HighResThreshold,
		"media.svgFallbackWidth":  c.Media.SVGFallbackWidth,
		"media.svgFallbackHeight": c.Media.SVGFallbackHeight,
	}
	for name, v := range dims {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	// Validate commands
	if err := validateCommands(c.Media.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []commandstructure.CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true

		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command: %s (registered: %s)", cmd.Name,
				strings.Join(commandstructure.DefaultRegistry.GetRegisteredNames(), ", "))
		}
	}

	return nil
}
