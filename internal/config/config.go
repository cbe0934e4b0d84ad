package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from a JSON file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("anonymizer")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-anonymizer/")

	// Environment variable overrides
	v.SetEnvPrefix("ANONYMIZER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the loaded configuration. Any violation is fatal before a
// single row is read.
func Validate(config *Config) error {
	for key, entity := range config.Entities {
		if entity.EntityType == "" {
			return fmt.Errorf("entity %q: entity_type must not be empty", key)
		}

		if entity.ConfidenceThreshold < 0 || entity.ConfidenceThreshold > 1 {
			return fmt.Errorf("entity %q: confidence_threshold %v outside [0,1]", key, entity.ConfidenceThreshold)
		}

		for _, pattern := range entity.RegexPatterns {
			if _, err := regexp.Compile(pattern.Pattern); err != nil {
				return fmt.Errorf("entity %q: regex pattern %q does not compile: %w", key, pattern.Name, err)
			}
			if pattern.Score < 0 || pattern.Score > 1 {
				return fmt.Errorf("entity %q: regex pattern %q score %v outside [0,1]", key, pattern.Name, pattern.Score)
			}
		}

		if entity.Strategy != "" && !isKnownStrategy(entity.Strategy) {
			return fmt.Errorf("entity %q: unknown strategy: %s", key, entity.Strategy)
		}
	}

	if !isKnownStrategy(config.Anonymization.DefaultStrategy) {
		return fmt.Errorf("unknown default strategy: %s", config.Anonymization.DefaultStrategy)
	}

	if config.BatchProcessing.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d", config.BatchProcessing.BatchSize)
	}

	if config.BatchProcessing.NumWorkers < 1 {
		return fmt.Errorf("invalid num_workers: %d", config.BatchProcessing.NumWorkers)
	}

	if config.Detection.ContextBoost < 0 || config.Detection.ContextBoost > 1 {
		return fmt.Errorf("invalid context_boost: %v", config.Detection.ContextBoost)
	}

	if config.Processing.ErrorPolicy != ErrorPolicyAbort && config.Processing.ErrorPolicy != ErrorPolicySkip {
		return fmt.Errorf("invalid error_policy: %s (must be abort or skip)", config.Processing.ErrorPolicy)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// EnabledEntities returns the entity types enabled for detection.
func (c *Config) EnabledEntities() []string {
	var enabled []string
	for _, entity := range c.Entities {
		if entity.Enabled {
			enabled = append(enabled, entity.EntityType)
		}
	}
	return enabled
}

// EntityByType returns the configuration for an entity type, looked up by
// the entity_type tag rather than the config key.
func (c *Config) EntityByType(entityType string) (EntityConfig, bool) {
	for _, entity := range c.Entities {
		if entity.EntityType == entityType {
			return entity, true
		}
	}
	return EntityConfig{}, false
}

// TableAllowed reports whether a table is on the processing allow-list.
// An empty list allows every table.
func (c *Config) TableAllowed(table string) bool {
	if len(c.Detection.AllowTables) == 0 {
		return true
	}
	for _, name := range c.Detection.AllowTables {
		if name == table {
			return true
		}
	}
	return false
}

func isKnownStrategy(strategy string) bool {
	switch strategy {
	case StrategyReplace, StrategyMask, StrategyRedact, StrategyHash, StrategyEncrypt, StrategyCustom:
		return true
	default:
		return false
	}
}
