// Package config provides configuration loading for triggerd.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables, with hardcoded defaults underneath. Validation
// failures are fatal at startup only; at runtime the reloadable subset is
// rejected without disturbing the active configuration.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete triggerd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Engine   EngineConfig   `koanf:"engine"`
	Learning LearningConfig `koanf:"learning"`
	Profiles ProfilesConfig `koanf:"profiles"`
}

// ServerConfig holds HTTP service-layer configuration.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EngineConfig holds decision-engine configuration. Mode, weights and
// thresholds form the hot-reloadable subset.
type EngineConfig struct {
	Mode                 string   `koanf:"mode"`
	RuleWeight           float64  `koanf:"rule_weight"`
	MLWeight             float64  `koanf:"ml_weight"`
	ConfidenceFloor      float64  `koanf:"confidence_floor"`
	AutoPromoteThreshold int      `koanf:"auto_promote_threshold"`
	ExtractorBudget      Duration `koanf:"extractor_budget"`
	AuditCapacity        int      `koanf:"audit_capacity"`
	ModelHistory         int      `koanf:"model_history"`
}

// LearningConfig holds online-learning-loop configuration.
type LearningConfig struct {
	QueueCapacity       int      `koanf:"queue_capacity"`
	RetrainBatchSize    int      `koanf:"retrain_batch_size"`
	RetrainInterval     Duration `koanf:"retrain_interval"`
	MinTimerBatch       int      `koanf:"min_timer_batch"`
	ValidationTolerance float64  `koanf:"validation_tolerance"`
	Epochs              int      `koanf:"epochs"`
	LearningRate        float64  `koanf:"learning_rate"`
	Seed                int64    `koanf:"seed"`
}

// ProfilesConfig holds user-profile-store configuration.
type ProfilesConfig struct {
	HalfLife       Duration `koanf:"half_life"`
	Retention      Duration `koanf:"retention"`
	PruneInterval  Duration `koanf:"prune_interval"`
	MaxTopicTokens int      `koanf:"max_topic_tokens"`
}

// Default returns the configuration defaults. Documented thresholds are
// starting points, not requirements; every one of them is overridable.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9120",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Mode:                 "learning",
			RuleWeight:           0.5,
			MLWeight:             0.5,
			ConfidenceFloor:      0.55,
			AutoPromoteThreshold: 200,
			ExtractorBudget:      Duration(50 * time.Millisecond),
			AuditCapacity:        1024,
			ModelHistory:         3,
		},
		Learning: LearningConfig{
			QueueCapacity:       512,
			RetrainBatchSize:    50,
			RetrainInterval:     Duration(5 * time.Minute),
			MinTimerBatch:       10,
			ValidationTolerance: 0.02,
			Epochs:              200,
			LearningRate:        0.1,
			Seed:                1,
		},
		Profiles: ProfilesConfig{
			HalfLife:       Duration(7 * 24 * time.Hour),
			Retention:      Duration(30 * 24 * time.Hour),
			PruneInterval:  Duration(time.Hour),
			MaxTopicTokens: 64,
		},
	}
}

// Validate checks the configuration surface owned by this package. The
// engine performs its own deeper validation at construction; both run at
// startup, where any failure is fatal.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.Engine.Mode {
	case "deterministic", "ml_only", "hybrid", "learning":
	default:
		return fmt.Errorf("engine.mode %q is not one of deterministic, ml_only, hybrid, learning", c.Engine.Mode)
	}
	if c.Engine.RuleWeight < 0 || c.Engine.RuleWeight > 1 {
		return fmt.Errorf("engine.rule_weight must be between 0.0 and 1.0, got %v", c.Engine.RuleWeight)
	}
	if c.Engine.MLWeight < 0 || c.Engine.MLWeight > 1 {
		return fmt.Errorf("engine.ml_weight must be between 0.0 and 1.0, got %v", c.Engine.MLWeight)
	}
	return nil
}
