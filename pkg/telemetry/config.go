package telemetry

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry block of the xbzone configuration file.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`

	// Environment is recorded on every span resource.
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`

	// ResourceAttributes are added to the trace resource, e.g. the site or
	// fabric pair the process manages.
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Command output goes to
	// stdout, so logs default to stderr.
	Output string `yaml:"output"`

	EnableCaller bool `yaml:"enable_caller"`

	// Sampling keeps the first SamplingInitial lines per second and every
	// SamplingThereafter-th line after that. Watch mode re-plans on every
	// file save, which is where it pays off.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms unixmicro"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`

	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" validate:"gte=0"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus endpoint served by `xbzone watch --metrics`.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets bound step, lock wait and device call latencies,
	// in seconds. Backend export steps can wait minutes for their keys.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

// EventsConfig configures the event publisher. Events reach the store's
// events table through a subscriber.
type EventsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size" validate:"required_if=Enabled true,gte=0"`

	// EnableAsync buffers events and delivers them in batches of MaxBatchSize,
	// or every FlushInterval, whichever comes first.
	EnableAsync   bool          `yaml:"enable_async"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	MaxBatchSize  int           `yaml:"max_batch_size" validate:"gte=0"`
}

// DefaultConfig returns the settings xbzone runs with when the configuration
// file has no telemetry block.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "xbzone",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "xbzone",
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 600,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			EnableAsync:   true,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
		},
	}
}

// DevelopmentConfig logs at debug level with callers and prints spans.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
