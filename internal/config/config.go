/* DO EVERYTHING WITH LOVE, CARE, HONESTY, TRUTH, TRUST, KINDNESS, RELIABILITY, CONSISTENCY, DISCIPLINE, RESILIENCE, CRAFTSMANSHIP, HUMILITY, ALLIANCE, EXPLICITNESS */

// Package config loads the converter settings from project.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFilename = "project.toml"
	DefaultLogDir         = "logs"
	DefaultLogFilename    = "heic-to-jpeg.log"
	DefaultWorkers        = 1
	DefaultPlacement      = PlacementParent
	DefaultSubjectPrefix  = "heic.conversion"
)

// Placement values accepted in project.toml and on the command line.
const (
	PlacementParent   = "parent"
	PlacementInside   = "inside"
	PlacementExplicit = "explicit"
)

var (
	// ErrInvalidWorkers indicates a worker count below one.
	ErrInvalidWorkers = errors.New("workers must be at least 1")
	// ErrInvalidPlacement indicates a placement outside parent|inside|explicit.
	ErrInvalidPlacement = errors.New("placement must be one of parent, inside, explicit")
)

type Config struct {
	Converter ConverterSettings `toml:"converter"`
	Logging   LoggingSettings   `toml:"logging"`
	NATS      NATSSettings      `toml:"nats"`
}

type ConverterSettings struct {
	Workers   int    `toml:"workers"`
	Placement string `toml:"placement"`
}

type LoggingSettings struct {
	Dir string `toml:"dir"`
}

// NATSSettings configures the optional event stream. An empty URL disables it.
type NATSSettings struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Default returns the configuration used when no project.toml is present.
func Default() *Config {
	return &Config{
		Converter: ConverterSettings{
			Workers:   DefaultWorkers,
			Placement: DefaultPlacement,
		},
		Logging: LoggingSettings{
			Dir: DefaultLogDir,
		},
		NATS: NATSSettings{
			URL:           "",
			SubjectPrefix: DefaultSubjectPrefix,
		},
	}
}

// Load reads filePath, filling unset keys with defaults. When filePath is the
// default name and the file does not exist, the defaults are returned as is.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	explicitPath := filePath != ""
	if !explicitPath {
		filePath = DefaultConfigFilename
	}

	configuration := Default()

	configFile, err := os.Open(filePath)
	if err != nil {
		if !explicitPath && errors.Is(err, os.ErrNotExist) {
			return configuration, nil
		}

		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer func() {
		if closeErr := configFile.Close(); closeErr != nil && loggerInstance != nil {
			loggerInstance.Warn("Failed to close config file: %v", closeErr)
		}
	}()

	decoder := toml.NewDecoder(configFile)
	if err := decoder.Decode(configuration); err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	configuration.applyDefaults()

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return configuration, nil
}

// applyDefaults restores defaults for keys present but left empty.
func (c *Config) applyDefaults() {
	if c.Converter.Placement == "" {
		c.Converter.Placement = DefaultPlacement
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = DefaultLogDir
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	if c.Converter.Workers < 1 {
		return fmt.Errorf("invalid converter.workers %d: %w", c.Converter.Workers, ErrInvalidWorkers)
	}

	switch c.Converter.Placement {
	case PlacementParent, PlacementInside, PlacementExplicit:
	default:
		return fmt.Errorf("invalid converter.placement %q: %w", c.Converter.Placement, ErrInvalidPlacement)
	}

	return nil
}

// PublishingEnabled reports whether events should be sent to NATS.
func (c *Config) PublishingEnabled() bool {
	return c.NATS.URL != ""
}

func (c *Config) GetLogFilePath(filename string) string {
	return filepath.Join(c.Logging.Dir, filename)
}
