package rabbitmq

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// TLSOptions loads CA/cert/key files for amqps connections.
type TLSOptions struct {
	RootCAPath     string `yaml:"rootCAPath,omitempty"`
	ClientCertPath string `yaml:"clientCertPath,omitempty"`
	ClientKeyPath  string `yaml:"clientKeyPath,omitempty"`
}

// ConnSettings is the broker address and credentials shared by input and
// output bridges.
type ConnSettings struct {
	Host      string        `yaml:"host" validate:"required"`
	Port      int           `yaml:"port" validate:"min=0,max=65535"` // 0 picks 5672, or 5671 with ssl
	Vhost     string        `yaml:"vhost" validate:"required"`
	User      string        `yaml:"user" validate:"required"`
	Password  string        `yaml:"password"`
	SSL       bool          `yaml:"ssl"`
	VerifySSL bool          `yaml:"verify_ssl"`
	TLS       *TLSOptions   `yaml:"tls,omitempty"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"min=0"`
}

func defaultConnSettings() ConnSettings {
	return ConnSettings{
		Vhost:     "/",
		User:      "guest",
		Password:  "guest",
		Heartbeat: 10 * time.Second,
	}
}

func (c ConnSettings) port() int {
	switch {
	case c.Port != 0:
		return c.Port
	case c.SSL:
		return 5671
	default:
		return 5672
	}
}

func (c ConnSettings) scheme() string {
	if c.SSL {
		return "amqps"
	}
	return "amqp"
}

// uri is the dial address, credentials included.
func (c ConnSettings) uri() amqp.URI {
	return amqp.URI{
		Scheme:   c.scheme(),
		Host:     c.Host,
		Port:     c.port(),
		Username: c.User,
		Password: c.Password,
		Vhost:    c.Vhost,
	}
}

func (c ConnSettings) amqpConfig() (amqp.Config, error) {
	cfg := amqp.Config{
		Vhost:     c.Vhost,
		Heartbeat: c.Heartbeat,
		Locale:    "en_US",
	}
	tlsCfg, err := buildTLSConfig(c)
	if err != nil {
		return cfg, err
	}
	cfg.TLSClientConfig = tlsCfg
	return cfg, nil
}

// InputConfig configures one queue consumer bridge.
type InputConfig struct {
	Name      string             `yaml:"-" validate:"required"`
	Codec     string             `yaml:"-"`
	Decorator pipeline.Decorator `yaml:"-"`

	ConnSettings `yaml:",inline"`

	Queue         string            `yaml:"queue" validate:"required"`
	Durable       bool              `yaml:"durable"`
	AutoDelete    bool              `yaml:"auto_delete"`
	Exclusive     bool              `yaml:"exclusive"`
	Arguments     map[string]string `yaml:"arguments,omitempty"`
	Exchange      string            `yaml:"exchange"`
	Key           string            `yaml:"key"`
	PrefetchCount int               `yaml:"prefetch_count" validate:"min=0"`
	Ack           bool              `yaml:"ack"`
	// DeleteNonDurableOnStop deletes a non-durable queue on shutdown, never
	// on reconnect.
	// Turn it off when other consumers share the queue.
	DeleteNonDurableOnStop bool          `yaml:"delete_non_durable_on_stop"`
	ReconnectDelay         time.Duration `yaml:"reconnect_delay" validate:"min=0"`
}

func DefaultInputConfig() InputConfig {
	return InputConfig{
		Codec:                  "plain",
		ConnSettings:           defaultConnSettings(),
		Key:                    "#",
		PrefetchCount:          256,
		Ack:                    true,
		DeleteNonDurableOnStop: true,
		ReconnectDelay:         10 * time.Second,
	}
}

// ConnectionURL identifies the input in the "source" field of its events.
// The password is never included.
func (c InputConfig) ConnectionURL() string {
	return fmt.Sprintf("%s://%s@%s:%d%s/%s", c.scheme(), c.User, c.Host, c.port(), c.Vhost, c.Queue)
}

func (c InputConfig) arguments() amqp.Table {
	if len(c.Arguments) == 0 {
		return nil
	}
	t := make(amqp.Table, len(c.Arguments))
	for k, v := range c.Arguments {
		t[k] = v
	}
	return t
}

// OutputConfig configures one exchange publisher bridge.
type OutputConfig struct {
	Name   string          `yaml:"-" validate:"required"`
	Codec  string          `yaml:"-"`
	Filter pipeline.Filter `yaml:"-"`

	ConnSettings `yaml:",inline"`

	Exchange       string        `yaml:"exchange"`
	Key            string        `yaml:"key"`
	Persistent     bool          `yaml:"persistent"`
	ContentType    string        `yaml:"content_type"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"min=0"`
}

func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Codec:          "plain",
		ConnSettings:   defaultConnSettings(),
		ContentType:    "text/plain",
		PublishTimeout: 5 * time.Second,
	}
}

func buildTLSConfig(c ConnSettings) (*tls.Config, error) {
	if !c.SSL {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName:         strings.TrimSpace(c.Host),
		InsecureSkipVerify: !c.VerifySSL,
		MinVersion:         tls.VersionTLS12,
	}
	opts := c.TLS
	if opts == nil {
		return cfg, nil
	}
	if opts.RootCAPath != "" {
		caBytes, err := os.ReadFile(opts.RootCAPath)
		if err != nil {
			return nil, fmt.Errorf("read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("append root CA failed")
		}
		cfg.RootCAs = pool
	}
	if opts.ClientCertPath != "" && opts.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertPath, opts.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
