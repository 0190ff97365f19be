package foreach

import (
	"time"

	"github.com/autom8ter/foreach/errors"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/ksuid"
)

const (
	DefaultWorkers          = 1
	DefaultPageSize         = 100
	MaxPageSize             = 10000
	DefaultPageBuffer       = 1
	DefaultMaxRetries       = 5
	DefaultInitialBackoff   = 100 * time.Millisecond
	DefaultMaxBackoff       = 10 * time.Second
	DefaultProgressInterval = 1000
)

// Config configures a run
type Config struct {
	// RunID identifies the run. It keys the saved checkpoint, so reuse it to resume a run.
	RunID string `json:"runId" mapstructure:"run_id"`
	// Workers is the number of documents processed concurrently. 1 processes documents one at a time in page order.
	Workers int `json:"workers" mapstructure:"workers" validate:"min=1,max=1024"`
	// PageSize is the number of documents requested per page
	PageSize int `json:"pageSize" mapstructure:"page_size" validate:"min=1,max=10000"`
	// PageBuffer is the number of pages fetched ahead of processing
	PageBuffer int `json:"pageBuffer" mapstructure:"page_buffer" validate:"min=1"`
	// MaxRetries bounds the retries of a transiently failing mutation
	MaxRetries int `json:"maxRetries" mapstructure:"max_retries" validate:"min=0"`
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration `json:"initialBackoff" mapstructure:"initial_backoff"`
	// MaxBackoff caps the delay between retries
	MaxBackoff time.Duration `json:"maxBackoff" mapstructure:"max_backoff"`
	// TransformTimeout bounds a single transformation call. Zero disables the timeout.
	TransformTimeout time.Duration `json:"transformTimeout" mapstructure:"transform_timeout"`
	// ProgressInterval is the number of documents between progress logs
	ProgressInterval int `json:"progressInterval" mapstructure:"progress_interval" validate:"min=1"`
	// DryRun logs intents instead of applying them
	DryRun bool `json:"dryRun" mapstructure:"dry_run"`
	// Resume starts from the checkpoint saved for RunID, if any
	Resume bool `json:"resume" mapstructure:"resume"`
}

// DefaultConfig returns the default configuration with a fresh run id
func DefaultConfig() Config {
	return Config{
		RunID:            ksuid.New().String(),
		Workers:          DefaultWorkers,
		PageSize:         DefaultPageSize,
		PageBuffer:       DefaultPageBuffer,
		MaxRetries:       DefaultMaxRetries,
		InitialBackoff:   DefaultInitialBackoff,
		MaxBackoff:       DefaultMaxBackoff,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Validate returns a validation error if the config is unusable
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.Validation, "invalid config")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.TransformTimeout < 0 {
		return errors.New(errors.Validation, "invalid config: durations must not be negative")
	}
	return nil
}

// Option configures a Runner
type Option func(r *Runner)

// WithLogger sets the runner's logger
func WithLogger(logger Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics records run metrics
func WithMetrics(metrics *Metrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithCheckpointer persists checkpoints so interrupted runs can resume
func WithCheckpointer(checkpointer Checkpointer) Option {
	return func(r *Runner) {
		r.checkpointer = checkpointer
	}
}

// WithValidator validates replacement documents before they are written
func WithValidator(validator DocumentValidator) Option {
	return func(r *Runner) {
		r.validators = append(r.validators, validator)
	}
}

// WithLogSink sets where Log intents are written. The default writes them to the logger.
func WithLogSink(sink LogSink) Option {
	return func(r *Runner) {
		r.sink = sink
	}
}
