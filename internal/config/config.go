// Package config loads stockroom settings from a YAML file and STOCKROOM_*
// environment variables, then checks them against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/spf13/viper"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override, e.g. STOCKROOM_SYNC_POLL_INTERVAL.
const EnvPrefix = "STOCKROOM"

// FileName is the config file looked up when no path is given.
const FileName = "stockroom"

// Config is the full set of settings.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" json:"data_dir"`
	Endpoint  string          `mapstructure:"endpoint" json:"endpoint"`
	Actor     string          `mapstructure:"actor" json:"actor"`
	Sync      SyncConfig      `mapstructure:"sync" json:"sync"`
	Transport TransportConfig `mapstructure:"transport" json:"transport"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
}

// SyncConfig controls the scheduler.
type SyncConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	DisplayInterval time.Duration `mapstructure:"display_interval" json:"display_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" json:"probe_timeout"`
	Probe           bool          `mapstructure:"probe" json:"probe"`
	Background      bool          `mapstructure:"background" json:"background"`
}

// TransportConfig controls requests to the backend.
type TransportConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initial_backoff"`
	Jitter         float64       `mapstructure:"jitter" json:"jitter"`
}

// LogConfig controls logging. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// Error codes reported by Load.
const (
	ErrCodeRead    = "E201" // config file unreadable
	ErrCodeDecode  = "E202" // values of the wrong type
	ErrCodeSchema  = "E203" // schema failed to compile
	ErrCodeInvalid = "E204" // values rejected by the schema
)

// Error is a configuration problem. Pos points into the schema when the
// schema rejected a value.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DefaultDataDir is ~/.stockroom, or .stockroom when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stockroom"
	}
	return filepath.Join(home, ".stockroom")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("endpoint", "")
	v.SetDefault("actor", "")

	v.SetDefault("sync.poll_interval", 15*time.Second)
	v.SetDefault("sync.display_interval", 3*time.Second)
	v.SetDefault("sync.probe_timeout", 3*time.Second)
	v.SetDefault("sync.probe", false)
	v.SetDefault("sync.background", true)

	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.max_retries", 2)
	v.SetDefault("transport.initial_backoff", 500*time.Millisecond)
	v.SetDefault("transport.jitter", 0.1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads path, or stockroom.yaml from the working directory and the
// default data directory when path is empty. A missing default file is not
// an error. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &Error{Code: ErrCodeRead, Message: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Code: ErrCodeDecode, Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Code: ErrCodeSchema, Message: err.Error()}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return &Error{Code: ErrCodeDecode, Message: err.Error()}
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

func schemaError(err error) *Error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: ErrCodeInvalid, Message: err.Error()}
	}
	first := errs[0]
	msg := first.Error()
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	return &Error{Code: ErrCodeInvalid, Message: msg, Pos: first.Position()}
}

// StorePath is the SQLite database inside the data directory.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "stockroom.db")
}

// LockPath is the file lock guarding batch submission.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "sync.lock")
}
