package mq

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer resolves a ClientConfig's host/port/TLS/transport settings into a
// net.Conn, grounded on the teacher's deleted client.go dialServer
// scheme-based dialing and its deleted examples/websocket dialer.
type Dialer func(ctx context.Context, cfg *ClientConfig) (net.Conn, error)

// DefaultDialer dials "tcp://host:port" with optional TLS, derived from
// cfg.Transport.SSLEnabled. It does not interpret a URL scheme; callers that
// need ws://, wss://, or tls:// addressing should use WithScheme.
var DefaultDialer Dialer = func(ctx context.Context, cfg *ClientConfig) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	timeout := time.Duration(cfg.Transport.ConnectTimeoutSec * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &net.Dialer{Timeout: timeout}

	if cfg.Transport.SSLEnabled {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, NewConnectionFailureError("mqtt.connect", err)
		}
		conn, err := tls.DialWithDialer(d, "tcp", addr, tlsCfg)
		if err != nil {
			return nil, NewConnectionFailureError("mqtt.connect", err)
		}
		return conn, nil
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, NewConnectionFailureError("mqtt.connect", err)
	}
	return conn, nil
}

// WithScheme builds a Dialer that interprets a scheme-prefixed address
// (tcp://, tls://, ssl://, ws://, wss://) the way the teacher's deleted
// dialServer did, adding WebSocket transport support via gorilla/websocket
// for the ws/wss schemes (SPEC_FULL §2B — the teacher's own deleted example
// used nhooyr.io/websocket, not present anywhere in this module's dependency
// surface; gorilla/websocket is the equivalent real dependency).
func WithScheme(rawAddr string) Dialer {
	return func(ctx context.Context, cfg *ClientConfig) (net.Conn, error) {
		u, err := url.Parse(rawAddr)
		if err != nil {
			return nil, NewInvalidConfigError("address", err.Error())
		}

		switch u.Scheme {
		case "", "tcp", "mqtt":
			return DefaultDialer(ctx, cfg)
		case "tls", "ssl", "mqtts":
			cfgCopy := *cfg
			cfgCopy.Transport.SSLEnabled = true
			return DefaultDialer(ctx, &cfgCopy)
		case "ws", "wss":
			return dialWebSocket(ctx, u, cfg)
		default:
			return nil, NewInvalidConfigError("address", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}
}

func dialWebSocket(ctx context.Context, u *url.URL, cfg *ClientConfig) (net.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(cfg.Transport.ConnectTimeoutSec * float64(time.Second)),
		Subprotocols:     []string{"mqtt"},
	}
	if u.Scheme == "wss" {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, NewConnectionFailureError("mqtt.connect", err)
		}
		dialer.TLSClientConfig = tlsCfg
	}

	wsConn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, NewConnectionFailureError("mqtt.connect", err)
	}
	return &websocketConn{Conn: wsConn}, nil
}

func buildTLSConfig(cfg *ClientConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	if cfg.Transport.SSLCertFile != "" && cfg.Transport.SSLKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Transport.SSLCertFile, cfg.Transport.SSLKeyFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
