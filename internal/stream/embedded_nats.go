package stream

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Options configures an in-process NATS server used for local development
// and tests.
type Options struct {
	Name string
	// Listen is host:port for clients; port 0 or -1 picks a free port.
	Listen   string
	StoreDir string
	// JetStream enables persistence under StoreDir.
	JetStream bool
	// LeafListen, when set, accepts leaf node connections on host:port.
	LeafListen string
	// LeafRemote, when set, joins the hub at this URL as a leaf node.
	LeafRemote string
}

type EmbeddedNats struct {
	Server *server.Server
	Client *nats.Conn
	Stream nats.JetStreamContext
}

func Start(o Options, logger zerolog.Logger) (*EmbeddedNats, error) {
	host, port, err := parseHostAndPort(o.Listen)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = server.RANDOM_PORT
	}

	opts := &server.Options{
		Host:               host,
		Port:               port,
		ServerName:         o.Name,
		StoreDir:           o.StoreDir,
		NoSigs:             true,
		JetStream:          o.JetStream,
		JetStreamMaxMemory: -1,
		JetStreamMaxStore:  -1,
	}
	if o.JetStream && o.StoreDir == "" {
		return nil, errors.New("embedded nats: jetstream needs a store dir")
	}
	if o.LeafListen != "" {
		lhost, lport, err := parseHostAndPort(o.LeafListen)
		if err != nil {
			return nil, err
		}
		opts.LeafNode.Host = lhost
		opts.LeafNode.Port = lport
	}
	if o.LeafRemote != "" {
		remotes, err := parseRemoteLeafOpts(o.LeafRemote)
		if err != nil {
			return nil, err
		}
		opts.LeafNode.Remotes = remotes
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}
	ns.SetLogger(&natsLogger{logger.With().Str("from", "nats").Logger()}, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS Server time out")
	}

	clientOpts := []nats.Option{
		nats.Name(o.Name),
		nats.InProcessServer(ns),
		nats.MaxReconnects(20),
		nats.ReconnectWait(3 * time.Second),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			logger.Debug().Err(err).Msg("disconnected from embedded NATS")
		}),
	}
	logger.Debug().Str("url", ns.ClientURL()).Msg("embedded NATS ready")
	nc, err := nats.Connect(ns.ClientURL(), clientOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}

	e := &EmbeddedNats{Server: ns, Client: nc}
	if o.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			ns.Shutdown()
			return nil, err
		}
		e.Stream = js
	}
	return e, nil
}

func (e *EmbeddedNats) ClientURL() string { return e.Server.ClientURL() }

func (e *EmbeddedNats) Close() {
	if e.Client != nil {
		e.Client.Close()
	}
	e.Server.Shutdown()
	e.Server.WaitForShutdown()
}

func parseHostAndPort(adr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(adr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parseRemoteLeafOpts(rootNatsURL string) ([]*server.RemoteLeafOpts, error) {
	rootURL, err := url.Parse(rootNatsURL)
	if err != nil {
		return nil, fmt.Errorf("leaf remote %q: %w", rootNatsURL, err)
	}
	return []*server.RemoteLeafOpts{{URLs: []*url.URL{rootURL}, Hub: true}}, nil
}

type natsLogger struct{ l zerolog.Logger }

func (n *natsLogger) Noticef(format string, v ...any) { n.l.Info().Msgf(format, v...) }
func (n *natsLogger) Warnf(format string, v ...any)   { n.l.Warn().Msgf(format, v...) }
func (n *natsLogger) Fatalf(format string, v ...any)  { n.l.Error().Msgf(format, v...) }
func (n *natsLogger) Errorf(format string, v ...any)  { n.l.Error().Msgf(format, v...) }
func (n *natsLogger) Debugf(format string, v ...any)  { n.l.Debug().Msgf(format, v...) }
func (n *natsLogger) Tracef(format string, v ...any)  { n.l.Trace().Msgf(format, v...) }
