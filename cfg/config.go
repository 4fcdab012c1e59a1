package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/tailpub/router"
	"github.com/rs/zerolog/log"
)

// Offset store backends
const (
	OffsetsSidecar = "sidecar" // <path>.position next to each log file
	OffsetsPebble  = "pebble"  // single Pebble database under offsets.dir
)

// Watch modes
const (
	WatchPoll   = "poll"
	WatchNotify = "fsnotify"
)

// FileSpec describes one tailed file (or glob of files) and how its lines become messages
type FileSpec struct {
	Path        string   `toml:"path"`
	Exclude     []string `toml:"exclude"`
	Delimiter   string   `toml:"delimiter"`
	Fields      []string `toml:"fields"`
	Topic       string   `toml:"topic"`
	HeaderKey   string   `toml:"header_key"`
	HeaderIndex int      `toml:"header_index"`
	KeyField    string   `toml:"key_field"` // Optional partition key field
	Format      string   `toml:"format"`    // "json" or "msgpack"
	Trim        *bool    `toml:"trim"`      // Trim whitespace before splitting (default true)
}

// TrimSpace reports whether surrounding whitespace is trimmed before splitting
func (f FileSpec) TrimSpace() bool {
	return f.Trim == nil || *f.Trim
}

// BrokerConfiguration controls the broker connection shared by all files
type BrokerConfiguration struct {
	Type             string   `toml:"type"` // "kafka" or "nats"
	Brokers          []string `toml:"brokers"`
	NatsURL          string   `toml:"nats_url"`
	Acks             string   `toml:"acks"` // "all" or "one"
	Compression      string   `toml:"compression"`
	BatchSize        int      `toml:"batch_size"`
	BatchTimeoutMS   int      `toml:"batch_timeout_ms"`
	WriteTimeoutMS   int      `toml:"write_timeout_ms"`
	ConnectTimeoutMS int      `toml:"connect_timeout_ms"`
	AutoCreateTopics bool     `toml:"auto_create_topics"`
	StreamMaxAgeH    int      `toml:"stream_max_age_hours"` // NATS JetStream stream retention
}

// PublishConfiguration controls the dispatcher lanes and retry policy
type PublishConfiguration struct {
	Lanes           int     `toml:"lanes"`
	QueueSize       int     `toml:"queue_size"`
	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	MaxRetries      int     `toml:"max_retries"`
}

// OffsetsConfiguration controls where committed offsets live
type OffsetsConfiguration struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"` // Empty = sidecar next to the log file
}

// WatchConfiguration controls change detection
type WatchConfiguration struct {
	Mode           string `toml:"mode"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
}

// TailConfiguration controls per-file reading
type TailConfiguration struct {
	MaxReadBytes    int64  `toml:"max_read_bytes"`
	MaxLineBytes    int    `toml:"max_line_bytes"`
	ShutdownGraceMS int    `toml:"shutdown_grace_ms"`
	DeadLetterDir   string `toml:"dead_letter_dir"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// AdminConfiguration for the status/metrics HTTP endpoint
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
	Token   string `toml:"token"` // Optional bearer token for everything but /healthz
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientID string `toml:"client_id"`

	Broker  BrokerConfiguration  `toml:"broker"`
	Publish PublishConfiguration `toml:"publish"`
	Offsets OffsetsConfiguration `toml:"offsets"`
	Watch   WatchConfiguration   `toml:"watch"`
	Tail    TailConfiguration    `toml:"tail"`
	Logging LoggingConfiguration `toml:"logging"`
	Admin   AdminConfiguration   `toml:"admin"`
	Files   []FileSpec           `toml:"files"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "tailpub.toml", "Path to configuration file")
	OffsetsDirFlag  = flag.String("offsets-dir", "", "Offsets directory (overrides config)")
	FilesJSONFlag   = flag.String("files-json", "", "Legacy log-config.json with the files to tail")
	BrokerYAMLFlag  = flag.String("broker-yaml", "", "Legacy kafka-config.yaml with broker settings")
	ClientIDFlag    = flag.String("client-id", "", "Client ID (overrides config, empty=auto)")
	AdminPortFlag   = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	VerboseLogsFlag = flag.Bool("verbose", false, "Enable debug logging")
)

// Config is the active configuration, initialized with defaults
var Config = Default()

// Default returns a configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		Broker: BrokerConfiguration{
			Type:             "kafka",
			Brokers:          []string{"localhost:9092"},
			Acks:             "all",
			Compression:      "none",
			BatchSize:        100,
			BatchTimeoutMS:   10,
			WriteTimeoutMS:   10000,
			ConnectTimeoutMS: 10000,
			AutoCreateTopics: true,
			StreamMaxAgeH:    24,
		},

		Publish: PublishConfiguration{
			Lanes:           4,
			QueueSize:       1024,
			RetryInitialMS:  100,
			RetryMaxMS:      30000,
			RetryMultiplier: 2.0,
			MaxRetries:      10,
		},

		Offsets: OffsetsConfiguration{
			Backend: OffsetsSidecar,
		},

		Watch: WatchConfiguration{
			Mode:           WatchPoll,
			PollIntervalMS: 1000,
		},

		Tail: TailConfiguration{
			MaxReadBytes:    4 << 20,
			MaxLineBytes:    1 << 20,
			ShutdownGraceMS: 10000,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Admin: AdminConfiguration{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9470,
			Metrics: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *FilesJSONFlag != "" {
		files, err := LoadLegacyFiles(*FilesJSONFlag)
		if err != nil {
			return err
		}
		Config.Files = append(Config.Files, files...)
	}

	if *BrokerYAMLFlag != "" {
		if err := ApplyLegacyBroker(*BrokerYAMLFlag, Config); err != nil {
			return err
		}
	}

	if *OffsetsDirFlag != "" {
		Config.Offsets.Dir = *OffsetsDirFlag
	}
	if *ClientIDFlag != "" {
		Config.ClientID = *ClientIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Enabled = true
		Config.Admin.Port = *AdminPortFlag
	}
	if *VerboseLogsFlag {
		Config.Logging.Verbose = true
	}

	if Config.ClientID == "" {
		Config.ClientID = generateClientID()
		log.Info().Str("client_id", Config.ClientID).Msg("Auto-generated client ID")
	}

	if Config.Offsets.Dir != "" {
		if err := os.MkdirAll(Config.Offsets.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create offsets directory: %w", err)
		}
	}

	return nil
}

// generateClientID derives a stable client ID from the machine ID
func generateClientID() string {
	id, err := machineid.ProtectedID("tailpub")
	if err != nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			return "tailpub"
		}
		return "tailpub-" + hostname
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "tailpub-" + id
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks a configuration for errors
func (c *Configuration) Validate() error {
	switch c.Broker.Type {
	case "kafka":
		if len(c.Broker.Brokers) == 0 {
			return fmt.Errorf("kafka broker requires at least one address")
		}
	case "nats":
		if c.Broker.NatsURL == "" {
			return fmt.Errorf("nats broker requires nats_url")
		}
	default:
		return fmt.Errorf("invalid broker type: %q", c.Broker.Type)
	}

	// Offsets are only committed after a positive acknowledgment
	switch strings.ToLower(c.Broker.Acks) {
	case "all", "one":
	default:
		return fmt.Errorf("invalid acks %q: must be \"all\" or \"one\"", c.Broker.Acks)
	}

	if c.Broker.BatchSize < 1 {
		return fmt.Errorf("broker batch size must be >= 1")
	}
	if c.Broker.ConnectTimeoutMS < 1 {
		return fmt.Errorf("broker connect timeout must be >= 1ms")
	}

	if c.Publish.Lanes < 1 {
		return fmt.Errorf("publish lanes must be >= 1")
	}
	if c.Publish.QueueSize < 1 {
		return fmt.Errorf("publish queue size must be >= 1")
	}
	if c.Publish.MaxRetries < 1 {
		return fmt.Errorf("publish max retries must be >= 1")
	}
	if c.Publish.RetryInitialMS < 1 || c.Publish.RetryMaxMS < c.Publish.RetryInitialMS {
		return fmt.Errorf("invalid retry delays: initial=%dms max=%dms", c.Publish.RetryInitialMS, c.Publish.RetryMaxMS)
	}
	if c.Publish.RetryMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}

	switch c.Offsets.Backend {
	case OffsetsSidecar:
	case OffsetsPebble:
		if c.Offsets.Dir == "" {
			return fmt.Errorf("pebble offsets backend requires offsets.dir")
		}
	default:
		return fmt.Errorf("invalid offsets backend: %q", c.Offsets.Backend)
	}

	switch c.Watch.Mode {
	case WatchPoll, WatchNotify:
	default:
		return fmt.Errorf("invalid watch mode: %q", c.Watch.Mode)
	}
	if c.Watch.PollIntervalMS < 1 {
		return fmt.Errorf("poll interval must be >= 1ms")
	}

	if c.Tail.MaxReadBytes < 1 {
		return fmt.Errorf("max read bytes must be >= 1")
	}
	if c.Tail.MaxLineBytes < 1 {
		return fmt.Errorf("max line bytes must be >= 1")
	}
	if c.Tail.ShutdownGraceMS < 0 {
		return fmt.Errorf("shutdown grace must be >= 0")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	if len(c.Files) == 0 {
		return fmt.Errorf("no files configured")
	}
	for i := range c.Files {
		if err := c.Files[i].Validate(); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks a single file spec and fills its defaults
func (f *FileSpec) Validate() error {
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	if f.Delimiter == "" {
		return fmt.Errorf("delimiter is required for %s", f.Path)
	}
	if len(f.Fields) == 0 {
		return fmt.Errorf("at least one field is required for %s", f.Path)
	}
	if f.Topic == "" {
		return fmt.Errorf("topic template is required for %s", f.Path)
	}
	if _, err := router.Parse(f.Topic); err != nil {
		return fmt.Errorf("invalid topic template for %s: %w", f.Path, err)
	}
	if f.HeaderKey == "" {
		return fmt.Errorf("header key is required for %s", f.Path)
	}
	if f.HeaderIndex < 0 {
		return fmt.Errorf("header index must be >= 0 for %s", f.Path)
	}
	if f.Format == "" {
		f.Format = "json"
	}
	return nil
}
