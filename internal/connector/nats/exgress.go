package nats

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/cuongceg/brokerbridge/internal/codec"
	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

const routeKeyVar = "${route_key}"

// Output publishes every admitted event to a subject, optionally through
// JetStream. Failed publishes are logged and dropped.
type Output struct {
	cfg     OutputConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	gateway *codec.Gateway

	nc *nats.Conn
	js nats.JetStreamContext

	fin    *core.Finisher
	closed atomic.Bool
}

func NewOutput(cfg OutputConfig, env core.Env) (*Output, error) {
	if err := config.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("nats output %q: %w", cfg.Name, err)
	}
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("nats output %q: %w", cfg.Name, err)
	}
	logger := env.Logger.With().
		Str("component", "nats-output").
		Str("bridge", cfg.Name).
		Logger()

	nc, err := connect(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("nats output %q: %w", cfg.Name, err)
	}
	o := &Output{
		cfg:     cfg,
		logger:  logger,
		metrics: env.Metrics,
		gateway: codec.NewGateway(c, cfg.Name, logger, env.Metrics),
		nc:      nc,
		fin:     core.NewFinisher(),
	}
	if cfg.JetStream.Enabled {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("nats output %q: jetstream: %w", cfg.Name, err)
		}
		o.js = js
	}
	o.logger.Info().
		Str("subject", cfg.Subject).
		Bool("jetstream", cfg.JetStream.Enabled).
		Str("url", nc.ConnectedUrlRedacted()).
		Msg("Registering nats producer")
	return o, nil
}

func connect(cfg OutputConfig, logger zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Debug().AnErr("last_error", nc.LastError()).Msg("nats connection closed")
		}),
	}
	if cfg.TLS.Enabled {
		opts = append(opts, nats.Secure(&tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}))
		if cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
		}
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
		}
	}
	// auth chain
	a := cfg.Auth
	switch {
	case a.Token != "":
		opts = append(opts, nats.Token(a.Token))
	case a.Username != "" || a.Password != "":
		opts = append(opts, nats.UserInfo(a.Username, a.Password))
	case a.NKeySeedFile != "":
		opt, err := nats.NkeyOptionFromSeed(a.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("nkey seed file: %w", err)
		}
		opts = append(opts, opt)
	case a.NKeySeed != "":
		kp, err := nkeys.FromSeed([]byte(a.NKeySeed))
		if err != nil {
			return nil, fmt.Errorf("nkey seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("nkey public key: %w", err)
		}
		opts = append(opts, nats.Nkey(pub, kp.Sign))
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func (o *Output) Name() string              { return o.cfg.Name }
func (o *Output) Finished() <-chan struct{} { return o.fin.Done() }

func (o *Output) Receive(ctx context.Context, ev *pipeline.Event) error {
	if !o.cfg.Filter.Admit(ev) {
		return nil
	}
	if ev == pipeline.Shutdown {
		o.logger.Info().Msg("NATS producer got shutdown signal")
		if err := o.nc.Flush(); err != nil {
			o.logger.Warn().Err(err).Msg("nats flush failed")
		}
		o.fin.Finish()
		return nil
	}
	payload, ok := o.gateway.Encode(ev)
	if !ok {
		return nil
	}
	if err := o.publish(ctx, ev, payload); err != nil {
		o.metrics.SendFailure(o.cfg.Name)
		o.logger.Warn().Err(err).Str("subject", o.cfg.Subject).Msg("nats producer threw exception, message dropped")
		return nil
	}
	o.metrics.Event(o.cfg.Name, "out")
	return nil
}

func (o *Output) publish(ctx context.Context, ev *pipeline.Event, payload []byte) error {
	if o.closed.Load() {
		return errors.New("output closed")
	}
	rk := o.routeKey(ev, payload)
	subj := o.cfg.Subject
	if strings.Contains(subj, routeKeyVar) {
		if rk == "" {
			return fmt.Errorf("no route key at %q for subject %s", o.cfg.KeyFrom, subj)
		}
		subj = strings.ReplaceAll(subj, routeKeyVar, rk)
	}

	msg := &nats.Msg{Subject: subj, Data: payload}
	if len(o.cfg.Headers) > 0 || (o.cfg.JetStream.Dedup && rk != "") {
		msg.Header = nats.Header{}
		for k, v := range o.cfg.Headers {
			msg.Header.Set(k, v)
		}
		if o.cfg.JetStream.Dedup && rk != "" {
			msg.Header.Set(nats.MsgIdHdr, rk)
		}
	}

	if o.js != nil {
		_, err := o.js.PublishMsg(msg, nats.Context(ctx))
		return err
	}
	return o.nc.PublishMsg(msg)
}

// routeKey looks KeyFrom up in the encoded payload first, then in the event.
func (o *Output) routeKey(ev *pipeline.Event, payload []byte) string {
	if o.cfg.KeyFrom == "" {
		return ""
	}
	if gjson.ValidBytes(payload) {
		if v := gjson.GetBytes(payload, o.cfg.KeyFrom); v.Exists() {
			return v.String()
		}
	}
	if v, ok := ev.Get(o.cfg.KeyFrom); ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func (o *Output) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.fin.Finish()
	o.nc.Close()
	return nil
}
