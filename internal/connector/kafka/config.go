package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

type SASL struct {
	Enable    bool   `yaml:"enable"`
	Mechanism string `yaml:"mechanism" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type TLS struct {
	Enable   bool   `yaml:"enable"`
	Insecure bool   `yaml:"insecure"`
	CAFile   string `yaml:"caFile"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// InputConfig configures one consumer-group input bridge. Name, Codec and
// Decorator come from the surrounding plugin block, everything else from
// its params.
type InputConfig struct {
	Name      string             `yaml:"-" validate:"required"`
	Codec     string             `yaml:"-"`
	Decorator pipeline.Decorator `yaml:"-"`

	// Brokers is the cluster coordination address list used to join the group.
	Brokers  []string `yaml:"brokers" validate:"required,min=1,dive,hostname_port"`
	GroupID  string   `yaml:"group_id" validate:"required"`
	TopicID  string   `yaml:"topic_id" validate:"required"`
	ClientID string   `yaml:"client_id"`

	ResetBeginning      bool          `yaml:"reset_beginning"`
	ConsumerThreads     int           `yaml:"consumer_threads" validate:"min=1"`
	QueueSize           int           `yaml:"queue_size" validate:"min=1"`
	RebalanceMaxRetries int           `yaml:"rebalance_max_retries" validate:"min=0"`
	RebalanceBackoff    time.Duration `yaml:"rebalance_backoff" validate:"min=0"`
	// ConsumerTimeout bounds a single poll; zero or negative blocks forever.
	ConsumerTimeout time.Duration `yaml:"consumer_timeout"`
	RestartOnError  bool          `yaml:"consumer_restart_on_error"`
	RestartSleep    time.Duration `yaml:"consumer_restart_sleep" validate:"min=0"`

	TLS  *TLS  `yaml:"tls,omitempty"`
	SASL *SASL `yaml:"sasl,omitempty"`
}

func DefaultInputConfig() InputConfig {
	return InputConfig{
		Codec:               "plain",
		ConsumerThreads:     1,
		QueueSize:           20,
		RebalanceMaxRetries: 4,
		RebalanceBackoff:    2 * time.Second,
		ConsumerTimeout:     -1,
		RestartOnError:      true,
	}
}

// OutputConfig configures one producer output bridge.
type OutputConfig struct {
	Name   string          `yaml:"-" validate:"required"`
	Codec  string          `yaml:"-"`
	Filter pipeline.Filter `yaml:"-"`

	BrokerList       []string `yaml:"broker_list" validate:"required,min=1,dive,hostname_port"`
	TopicID          string   `yaml:"topic_id" validate:"required"`
	ClientID         string   `yaml:"client_id"`
	CompressionCodec string   `yaml:"compression_codec" validate:"oneof=none gzip snappy"`
	// CompressedTopics is carried through untouched; the writer compresses
	// every batch with CompressionCodec.
	CompressedTopics string `yaml:"compressed_topics"`

	TLS  *TLS  `yaml:"tls,omitempty"`
	SASL *SASL `yaml:"sasl,omitempty"`
}

func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Codec:            "plain",
		BrokerList:       []string{"localhost:9092"},
		TopicID:          "test",
		CompressionCodec: "none",
	}
}

func (c OutputConfig) compression() kafka.Compression {
	switch c.CompressionCodec {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	}
	return 0
}

func (t *TLS) config() (*tls.Config, error) {
	if t == nil || !t.Enable {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: t.Insecure,
		MinVersion:         tls.VersionTLS12,
	}
	if t.CAFile != "" {
		ca, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("append root CA failed")
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (s *SASL) mechanism() (sasl.Mechanism, error) {
	if s == nil || !s.Enable {
		return nil, nil
	}
	switch s.Mechanism {
	case "", "PLAIN":
		return plain.Mechanism{Username: s.Username, Password: s.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, s.Username, s.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, s.Username, s.Password)
	}
	return nil, fmt.Errorf("unsupported sasl mechanism %q", s.Mechanism)
}

func newDialer(clientID string, t *TLS, s *SASL) (*kafka.Dialer, error) {
	tlsCfg, err := t.config()
	if err != nil {
		return nil, err
	}
	mech, err := s.mechanism()
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		ClientID:      clientID,
		TLS:           tlsCfg,
		SASLMechanism: mech,
	}, nil
}
