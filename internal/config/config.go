package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/me/obscore/internal/archive"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/internal/validator"
	"gopkg.in/yaml.v3"
)

// Config is the shared configuration file read by every obscore process.
// Command-line flags override individual fields.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Validator ValidatorConfig `yaml:"validator"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// StoreConfig locates the shared state store.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database path (":memory:" for testing)
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig holds configuration for the admin and worker API.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address (default ":8080")

	// EmbedLoops runs the scheduler and validator loops inside the server.
	EmbedLoops bool `yaml:"embed_loops"`
}

// SchedulerConfig holds scheduler tuning.
type SchedulerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	LeaseDuration   time.Duration `yaml:"lease_duration"`
	MaxAttempts     int           `yaml:"max_attempts"`
	CandidateBatch  int           `yaml:"candidate_batch"`
	ArchiveInterval time.Duration `yaml:"archive_interval"`
}

// ValidatorConfig holds validator tuning.
type ValidatorConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	BatchSize          int           `yaml:"batch_size"`
	MaxPayloadErrors   int           `yaml:"max_payload_errors"`
	MaxPromoteAttempts int           `yaml:"max_promote_attempts"`
}

// ArchiveConfig selects where terminal work items are exported.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Sink    string `yaml:"sink"` // "file" or "s3"
	Dir     string `yaml:"dir"`
	Batch   int    `yaml:"batch"`
	S3      S3     `yaml:"s3"`
}

// S3 locates the archive bucket. Credentials come from the AWS default chain.
type S3 struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns sensible defaults.
func Default() Config {
	sched := scheduler.DefaultConfig()
	val := validator.DefaultConfig()
	return Config{
		Store: StoreConfig{Path: "obscore.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Scheduler: SchedulerConfig{
			PollInterval:    sched.PollInterval,
			LeaseDuration:   sched.LeaseDuration,
			MaxAttempts:     sched.MaxAttempts,
			CandidateBatch:  sched.CandidateBatch,
			ArchiveInterval: sched.ArchiveInterval,
		},
		Validator: ValidatorConfig{
			PollInterval:       val.PollInterval,
			BatchSize:          val.BatchSize,
			MaxPayloadErrors:   val.MaxPayloadErrors,
			MaxPromoteAttempts: val.MaxPromoteAttempts,
		},
		Archive: ArchiveConfig{
			Sink:  "file",
			Dir:   "archive",
			Batch: 100,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field combinations the loaders cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Scheduler.LeaseDuration > 0 && c.Scheduler.LeaseDuration < time.Second {
		errs = append(errs, errors.New("scheduler.lease_duration must be at least 1s"))
	}
	if c.Archive.Enabled {
		switch c.Archive.Sink {
		case "file":
			if c.Archive.Dir == "" {
				errs = append(errs, errors.New("archive.dir is required for the file sink"))
			}
		case "s3":
			if c.Archive.S3.Bucket == "" {
				errs = append(errs, errors.New("archive.s3.bucket is required for the s3 sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("archive.sink %q is not one of file, s3", c.Archive.Sink))
		}
	}
	return errors.Join(errs...)
}

// SchedulerConfig converts the file settings into a scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	out := scheduler.DefaultConfig()
	s := c.Scheduler
	if s.PollInterval > 0 {
		out.PollInterval = s.PollInterval
	}
	if s.LeaseDuration > 0 {
		out.LeaseDuration = s.LeaseDuration
	}
	if s.MaxAttempts > 0 {
		out.MaxAttempts = s.MaxAttempts
	}
	if s.CandidateBatch > 0 {
		out.CandidateBatch = s.CandidateBatch
	}
	if s.ArchiveInterval > 0 {
		out.ArchiveInterval = s.ArchiveInterval
	}
	out.Retry = store.DefaultRetryPolicy()
	return out
}

// ValidatorConfig converts the file settings into a validator.Config.
func (c Config) ValidatorConfig() validator.Config {
	out := validator.DefaultConfig()
	v := c.Validator
	if v.PollInterval > 0 {
		out.PollInterval = v.PollInterval
	}
	if v.BatchSize > 0 {
		out.BatchSize = v.BatchSize
	}
	if v.MaxPayloadErrors > 0 {
		out.MaxPayloadErrors = v.MaxPayloadErrors
	}
	if v.MaxPromoteAttempts > 0 {
		out.MaxPromoteAttempts = v.MaxPromoteAttempts
	}
	return out
}

// ArchiveSink builds the configured sink, or nil when archiving is disabled.
func (c Config) ArchiveSink(ctx context.Context) (archive.Sink, error) {
	if !c.Archive.Enabled {
		return nil, nil
	}
	if c.Archive.Sink == "s3" {
		sink, err := archive.NewS3Sink(ctx, archive.S3Config{
			Bucket:       c.Archive.S3.Bucket,
			Prefix:       c.Archive.S3.Prefix,
			Region:       c.Archive.S3.Region,
			Endpoint:     c.Archive.S3.Endpoint,
			UsePathStyle: c.Archive.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return &archive.FileSink{Root: c.Archive.Dir}, nil
}
