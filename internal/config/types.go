package config

import (
	"fmt"
	"time"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Duration wraps time.Duration to parse YAML strings like "300ms", "5s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(fn func(any) error) error {
	var s string
	if err := fn(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText lets environment overrides set durations too.
func (d *Duration) UnmarshalText(b []byte) error {
	dd, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type AppConfig struct {
	LogLevel        string   `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat       string   `yaml:"log_format" validate:"omitempty,oneof=json console"`
	LogFile         string   `yaml:"log_file"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	Buffer          int      `yaml:"buffer" validate:"min=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Dedup           Dedup    `yaml:"dedup"`
}

// Dedup enables the router's Redis-backed duplicate filter when RedisAddr
// is set. Field names the event field holding the message id.
type Dedup struct {
	RedisAddr     string   `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db" validate:"min=0"`
	Field         string   `yaml:"field" validate:"required_with=RedisAddr"`
	Prefix        string   `yaml:"prefix"`
	TTL           Duration `yaml:"ttl"`
}

func (d Dedup) Enabled() bool { return d.RedisAddr != "" }

// Plugin is one inputs[] or outputs[] entry. Params is decoded later into the
// bridge's own config struct.
type Plugin struct {
	Name     string            `yaml:"name" validate:"required"`
	Type     string            `yaml:"type" validate:"required"`
	Codec    string            `yaml:"codec,omitempty"`
	TypeTag  string            `yaml:"type_tag,omitempty"`
	Tags     []string          `yaml:"tags,omitempty"`
	AddField map[string]string `yaml:"add_field,omitempty"`
	Filter   pipeline.Filter   `yaml:"filter,omitempty"`
	Params   map[string]any    `yaml:"params"`
}

func (p Plugin) Decorator() pipeline.Decorator {
	return pipeline.Decorator{Type: p.TypeTag, Tags: p.Tags, AddField: p.AddField}
}

type UserConfig struct {
	SchemaVersion int       `yaml:"schema_version"`
	App           AppConfig `yaml:"app"`
	Inputs        []Plugin  `yaml:"inputs" validate:"dive"`
	Outputs       []Plugin  `yaml:"outputs" validate:"dive"`
}
