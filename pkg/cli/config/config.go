package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	domainConfig "github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// App holds the flag pointing to the optional TOML configuration file
type App struct {
	path string
}

// Flags returns CLI flags for the application configuration
func (a *App) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML configuration file",
			Sources:     cli.EnvVars("HYPOMNEMA_CONFIG"),
			Destination: &a.path,
		},
	}
}

// Configure loads the configuration file. Defaults are returned when no file is set.
func (a *App) Configure(ctx context.Context) (*AppConfig, error) {
	if a.path == "" {
		return DefaultAppConfig(), nil
	}

	cfg, err := LoadAppConfiguration(a.path)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("Loaded configuration file", "path", a.path)
	return cfg, nil
}

// AppConfig represents the application configuration file
type AppConfig struct {
	Memory  MemorySection  `toml:"memory"`
	Vector  VectorSection  `toml:"vector"`
	Indexes []IndexSection `toml:"index"`
	Themes  ThemeSection   `toml:"themes"`
}

// MemorySection tunes the conversation memory components
type MemorySection struct {
	SummaryChunkSize      int     `toml:"summary_chunk_size"`
	MaxRetries            int     `toml:"max_retries"`
	RetryDelayMS          int64   `toml:"retry_delay_ms"`
	TopicChangeThreshold  float64 `toml:"topic_change_threshold"`
	TopicContextWindow    int     `toml:"topic_context_window"`
	TopicDetection        bool    `toml:"topic_detection"`
	GlobalSummaryInterval int     `toml:"global_summary_interval"`
	ImmediateContextSize  int     `toml:"immediate_context_size"`
	SummaryQueueSize      int     `toml:"summary_queue_size"`
	SummaryWorkers        int     `toml:"summary_workers"`
}

// VectorSection tunes the vector operations layer
type VectorSection struct {
	Dimensions       int     `toml:"dimensions"`
	MaxAttempts      int     `toml:"max_attempts"`
	BackoffMS        int64   `toml:"backoff_ms"`
	MaxBatchSize     int     `toml:"max_batch_size"`
	BatchChunkSize   int     `toml:"batch_chunk_size"`
	BatchConcurrency int     `toml:"batch_concurrency"`
	ScoreThreshold   float64 `toml:"score_threshold"`
	TopK             int     `toml:"top_k"`
}

// IndexSection declares a vector index. Zero dimensions inherit [vector].dimensions.
type IndexSection struct {
	Name       string `toml:"name"`
	Dimensions int    `toml:"dimensions"`
}

// ThemeSection holds the controlled theme vocabulary
type ThemeSection struct {
	Vocabulary    []string `toml:"vocabulary"`
	MinConfidence float64  `toml:"min_confidence"`
}

// DefaultAppConfig returns the configuration used when no file is given
func DefaultAppConfig() *AppConfig {
	mem := domainConfig.DefaultMemoryConfig()
	vec := domainConfig.DefaultVectorConfig(model.EmbeddingDimension)
	themes := domainConfig.DefaultThemeConfig()

	return &AppConfig{
		Memory: MemorySection{
			SummaryChunkSize:      mem.SummaryChunkSize,
			MaxRetries:            mem.MaxRetries,
			RetryDelayMS:          mem.RetryDelay.Milliseconds(),
			TopicChangeThreshold:  mem.TopicChangeThreshold,
			TopicContextWindow:    mem.TopicContextWindow,
			GlobalSummaryInterval: mem.GlobalSummaryInterval,
			ImmediateContextSize:  mem.ImmediateContextSize,
			SummaryQueueSize:      mem.SummaryQueueSize,
			SummaryWorkers:        mem.SummaryWorkers,
		},
		Vector: VectorSection{
			Dimensions:       model.EmbeddingDimension,
			MaxAttempts:      vec.MaxAttempts,
			BackoffMS:        vec.Backoff.Milliseconds(),
			MaxBatchSize:     vec.MaxBatchSize,
			BatchChunkSize:   vec.BatchChunkSize,
			BatchConcurrency: vec.BatchConcurrency,
			ScoreThreshold:   vec.ScoreThreshold,
			TopK:             vec.DefaultTopK,
		},
		Themes: ThemeSection{
			Vocabulary:    themes.Vocabulary,
			MinConfidence: themes.MinConfidence,
		},
	}
}

// LoadAppConfiguration loads the application configuration from a TOML file.
// Keys missing from the file keep their default values.
func LoadAppConfiguration(path string) (*AppConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "failed to read config file", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	config := DefaultAppConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path),
			goerr.V("cause", err.Error()))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return config, nil
}

// Validate checks if the AppConfig is valid
func (a *AppConfig) Validate() error {
	if err := a.ToMemoryConfig().Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid [memory] section", goerr.V("cause", err.Error()))
	}
	if err := a.ToVectorConfig().Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid [vector] or [[index]] section", goerr.V("cause", err.Error()))
	}
	if err := a.ToThemeConfig().Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid [themes] section", goerr.V("cause", err.Error()))
	}
	return nil
}

// ToMemoryConfig converts the [memory] section to the domain configuration
func (a *AppConfig) ToMemoryConfig() domainConfig.MemoryConfig {
	m := a.Memory
	return domainConfig.MemoryConfig{
		SummaryChunkSize:      m.SummaryChunkSize,
		MaxRetries:            m.MaxRetries,
		RetryDelay:            time.Duration(m.RetryDelayMS) * time.Millisecond,
		TopicChangeThreshold:  m.TopicChangeThreshold,
		TopicContextWindow:    m.TopicContextWindow,
		GlobalSummaryInterval: m.GlobalSummaryInterval,
		ImmediateContextSize:  m.ImmediateContextSize,
		SummaryQueueSize:      m.SummaryQueueSize,
		SummaryWorkers:        m.SummaryWorkers,
	}
}

// ToVectorConfig converts the [vector] section and [[index]] declarations.
// Without declarations the documents and memory indexes are used.
func (a *AppConfig) ToVectorConfig() domainConfig.VectorConfig {
	v := a.Vector
	cfg := domainConfig.DefaultVectorConfig(v.Dimensions)
	cfg.MaxAttempts = v.MaxAttempts
	cfg.Backoff = time.Duration(v.BackoffMS) * time.Millisecond
	cfg.MaxBatchSize = v.MaxBatchSize
	cfg.BatchChunkSize = v.BatchChunkSize
	cfg.BatchConcurrency = v.BatchConcurrency
	cfg.ScoreThreshold = v.ScoreThreshold
	cfg.DefaultTopK = v.TopK

	if len(a.Indexes) > 0 {
		cfg.Indexes = make([]domainConfig.VectorIndex, len(a.Indexes))
		for i, idx := range a.Indexes {
			dim := idx.Dimensions
			if dim == 0 {
				dim = v.Dimensions
			}
			cfg.Indexes[i] = domainConfig.VectorIndex{Name: idx.Name, Dimensions: dim}
		}
	}

	return cfg
}

// ToThemeConfig converts the [themes] section
func (a *AppConfig) ToThemeConfig() domainConfig.ThemeConfig {
	return domainConfig.ThemeConfig{
		Vocabulary:    a.Themes.Vocabulary,
		MinConfidence: a.Themes.MinConfidence,
	}
}

// LogValue implements slog.LogValuer
func (a *AppConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("summary_chunk_size", a.Memory.SummaryChunkSize),
		slog.Int("global_summary_interval", a.Memory.GlobalSummaryInterval),
		slog.Bool("topic_detection", a.Memory.TopicDetection),
		slog.Int("dimensions", a.Vector.Dimensions),
		slog.Int("indexes", len(a.ToVectorConfig().Indexes)),
		slog.Int("themes", len(a.Themes.Vocabulary)),
	)
}
