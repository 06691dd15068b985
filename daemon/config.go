package daemon

import (
	"crypto/tls"
	"log/slog"

	"github.com/duh-rpc/duh-go"
	"github.com/harbor-io/bulkq"
	"github.com/kapetan-io/tackle/set"
)

type Config struct {
	// Queue configures the buffering queue the relay feeds. Queue.Sink is
	// required; config.ApplyConfigFile builds one from the sink endpoint.
	Queue bulkq.Config
	// Log is the logger used by the daemon
	Log *slog.Logger
	// TLS is the TLS config used for the public server and clients
	TLS *duh.TLSConfig
	// ListenAddress is the address:port the relay will listen on for
	// public HTTP requests
	ListenAddress string
}

func (c *Config) ClientTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ClientTLS
	}
	return nil
}

func (c *Config) ServerTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ServerTLS
	}
	return nil
}

func (c *Config) SetDefaults() error {
	set.Default(&c.Log, slog.Default())
	set.Default(&c.ListenAddress, "localhost:2319")
	set.Default(&c.Queue.Log, c.Log)
	return nil
}
