package config

// Strategy names accepted in entity configurations.
const (
	StrategyReplace = "replace"
	StrategyMask    = "mask"
	StrategyRedact  = "redact"
	StrategyHash    = "hash"
	StrategyEncrypt = "encrypt"
	StrategyCustom  = "custom"
)

// Error policies for failed batches.
const (
	ErrorPolicyAbort = "abort"
	ErrorPolicySkip  = "skip"
)

// Config represents the main configuration structure
type Config struct {
	Enabled         bool                    `json:"enabled" mapstructure:"enabled"`
	Entities        map[string]EntityConfig `json:"entities" mapstructure:"entities"`
	Anonymization   AnonymizationDefaults   `json:"anonymization" mapstructure:"anonymization"`
	BatchProcessing BatchProcessingConfig   `json:"batch_processing" mapstructure:"batch_processing"`
	NLP             NLPConfig               `json:"nlp" mapstructure:"nlp"`
	Detection       DetectionConfig         `json:"detection" mapstructure:"detection"`
	Processing      ProcessingConfig        `json:"processing" mapstructure:"processing"`
	Storage         StorageConfig           `json:"storage" mapstructure:"storage"`
	Logging         LoggingConfig           `json:"logging" mapstructure:"logging"`
}

// RegexPattern is a named regular expression with a detection score.
type RegexPattern struct {
	Name    string  `json:"name" mapstructure:"name"`
	Pattern string  `json:"pattern" mapstructure:"pattern"`
	Score   float64 `json:"score" mapstructure:"score"`
}

// EntityConfig contains detection and anonymization settings for one PII
// entity type.
type EntityConfig struct {
	EntityType          string                 `json:"entity_type" mapstructure:"entity_type"`
	Enabled             bool                   `json:"enabled" mapstructure:"enabled"`
	ConfidenceThreshold float64                `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	ContextWords        []string               `json:"context_words" mapstructure:"context_words"`
	DenyList            []string               `json:"deny_list" mapstructure:"deny_list"`
	RegexPatterns       []RegexPattern         `json:"regex_patterns" mapstructure:"regex_patterns"`
	Strategy            string                 `json:"strategy" mapstructure:"strategy"`
	StrategyParams      map[string]interface{} `json:"strategy_params" mapstructure:"strategy_params"`
}

// AnonymizationDefaults contains process-wide anonymization settings applied
// when an entity configuration does not override them.
type AnonymizationDefaults struct {
	DefaultStrategy    string `json:"default_strategy" mapstructure:"default_strategy"`
	DefaultReplacement string `json:"default_replacement" mapstructure:"default_replacement"`
	PreserveFormat     bool   `json:"preserve_format" mapstructure:"preserve_format"`
	MaskChar           string `json:"mask_char" mapstructure:"mask_char"`
	MaskFromEnd        bool   `json:"mask_from_end" mapstructure:"mask_from_end"`
	HashType           string `json:"hash_type" mapstructure:"hash_type"`
	EncryptionKey      string `json:"encryption_key" mapstructure:"encryption_key"`
}

// BatchProcessingConfig contains batch processing settings for large datasets.
type BatchProcessingConfig struct {
	BatchSize                int  `json:"batch_size" mapstructure:"batch_size"`
	MaxMemoryMB              int  `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	EnableParallelProcessing bool `json:"enable_parallel_processing" mapstructure:"enable_parallel_processing"`
	NumWorkers               int  `json:"num_workers" mapstructure:"num_workers"`
}

// NLPConfig contains detection backend configuration.
type NLPConfig struct {
	EngineName string `json:"engine_name" mapstructure:"engine_name"`
	ModelName  string `json:"model_name" mapstructure:"model_name"`
	ModelPath  string `json:"model_path" mapstructure:"model_path"`
}

// DetectionConfig contains detection tuning knobs.
//
// ContextBoost is added to a backend match's score when any of the entity's
// context words appears within ContextWindowTokens tokens of the match,
// clamped to 1.0.
type DetectionConfig struct {
	ContextBoost        float64             `json:"context_boost" mapstructure:"context_boost"`
	ContextWindowTokens int                 `json:"context_window_tokens" mapstructure:"context_window_tokens"`
	AllowTables         []string            `json:"allow_tables" mapstructure:"allow_tables"`
	ColumnExclusions    map[string][]string `json:"column_exclusions" mapstructure:"column_exclusions"`
	SuppressIDSuffix    bool                `json:"suppress_id_suffix" mapstructure:"suppress_id_suffix"`
}

// ProcessingConfig contains run-level processing policy.
type ProcessingConfig struct {
	ErrorPolicy string `json:"error_policy" mapstructure:"error_policy"` // abort or skip
}

// StorageConfig selects PostgreSQL stores for database deployments. With
// DatabaseURL set the anonymized output is written to Postgres instead of a
// SQLite or file destination; SourceDatabaseURL additionally switches the
// input side to Postgres, bypassing the query engine download.
type StorageConfig struct {
	SourceDatabaseURL string `json:"source_database_url" mapstructure:"source_database_url"`
	DatabaseURL       string `json:"database_url" mapstructure:"database_url"`
	MaxOpenConns      int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns      int    `json:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // json or console
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Enabled: true,
		Entities: map[string]EntityConfig{
			"email": {
				EntityType:          "EMAIL_ADDRESS",
				Enabled:             true,
				ConfidenceThreshold: 0.5,
				Strategy:            StrategyCustom,
				StrategyParams:      map[string]interface{}{"lambda": "mask_email"},
			},
			"person": {
				EntityType:          "PERSON",
				Enabled:             true,
				ConfidenceThreshold: 0.5,
				Strategy:            StrategyCustom,
				StrategyParams:      map[string]interface{}{"lambda": "mask_person"},
			},
			"phone": {
				EntityType:          "PHONE_NUMBER",
				Enabled:             true,
				ConfidenceThreshold: 0.5,
				Strategy:            StrategyMask,
				StrategyParams: map[string]interface{}{
					"chars_to_mask": 7,
					"masking_char":  "*",
					"from_end":      true,
				},
			},
			"location": {
				EntityType:          "LOCATION",
				Enabled:             true,
				ConfidenceThreshold: 0.5,
				Strategy:            StrategyCustom,
				StrategyParams:      map[string]interface{}{"lambda": "mask_location"},
			},
		},
		Anonymization: AnonymizationDefaults{
			DefaultStrategy:    StrategyReplace,
			DefaultReplacement: "<REDACTED>",
			PreserveFormat:     true,
			MaskChar:           "*",
			MaskFromEnd:        true,
			HashType:           "sha256",
		},
		BatchProcessing: BatchProcessingConfig{
			BatchSize:                1000,
			MaxMemoryMB:              512,
			EnableParallelProcessing: true,
			NumWorkers:               4,
		},
		NLP: NLPConfig{
			EngineName: "pattern",
			ModelName:  "builtin",
		},
		Detection: DetectionConfig{
			ContextBoost:        0.35,
			ContextWindowTokens: 5,
			AllowTables:         []string{"results"},
			ColumnExclusions: map[string][]string{
				"id":      {"PERSON"},
				"user_id": {"PERSON"},
				"uuid":    {"PERSON"},
				"guid":    {"PERSON"},
				"key":     {"PERSON"},
				"pk":      {"PERSON"},
			},
			SuppressIDSuffix: true,
		},
		Processing: ProcessingConfig{
			ErrorPolicy: ErrorPolicyAbort,
		},
		Storage: StorageConfig{
			MaxOpenConns: 8,
			MaxIdleConns: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
