package nats

import (
	"time"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
}

type AuthConfig struct {
	// Choose one of: User/Pass, Token, or NKey
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Token        string `yaml:"token"`
	NKeySeed     string `yaml:"nkeySeed"`
	NKeySeedFile string `yaml:"nkeySeedFile"`
}

type JetStreamConfig struct {
	Enabled bool `yaml:"enabled"`
	// Dedup sets Nats-Msg-Id from the route key.
	Dedup bool `yaml:"dedup"`
}

// OutputConfig configures one subject publisher bridge.
type OutputConfig struct {
	Name   string          `yaml:"-" validate:"required"`
	Codec  string          `yaml:"-"`
	Filter pipeline.Filter `yaml:"-"`

	Servers       []string      `yaml:"servers" validate:"required,min=1,dive,required"`
	ClientName    string        `yaml:"client_name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" validate:"min=0"`
	MaxReconnects int           `yaml:"max_reconnects"`
	TLS           TLSConfig     `yaml:"tls"`
	Auth          AuthConfig    `yaml:"auth"`

	// Subject may contain ${route_key}.
	Subject string `yaml:"subject" validate:"required"`
	// KeyFrom is a gjson path into the encoded payload, falling back to the
	// event field of that name.
	KeyFrom   string            `yaml:"key_from"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	JetStream JetStreamConfig   `yaml:"jetstream"`
}

func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Codec:         "plain",
		ClientName:    "brokerbridge",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}
