package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time for a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options are per-connection settings that are not part of the shared config.
type Options struct {
	// ClientID identifies the connection to the broker. Must be unique per connection.
	ClientID string

	// Will is registered with the broker at connect time. Optional.
	Will *Will
}

// Will is a Last Will and Testament message.
//
// The broker publishes it if the connection drops without a clean
// DISCONNECT (crash, kill -9, network failure).
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// brokerEndpoint is a broker URL translated to paho's form.
type brokerEndpoint struct {
	server   string
	username string
	password string
	secure   bool
}

// parseBroker maps user-facing broker URLs to paho server strings.
//
//	mqtt://host[:port]   -> tcp://host:1883
//	tcp://host[:port]    -> tcp://host:1883
//	mqtts://host[:port]  -> ssl://host:8883
//	tls://host[:port]    -> ssl://host:8883
//	ws://host[:port]/p   -> ws://host:80/p
//	wss://host[:port]/p  -> wss://host:443/p
//
// Credentials in the URL userinfo are returned separately.
func parseBroker(broker string) (brokerEndpoint, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return brokerEndpoint{}, fmt.Errorf("%w: %w", ErrInvalidBroker, err)
	}
	if u.Hostname() == "" {
		return brokerEndpoint{}, fmt.Errorf("%w: %q has no host", ErrInvalidBroker, broker)
	}

	var scheme, defaultPort string
	var secure bool
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		scheme, defaultPort = "tcp", "1883"
	case "mqtts", "tls", "ssl":
		scheme, defaultPort, secure = "ssl", "8883", true
	case "ws":
		scheme, defaultPort = "ws", "80"
	case "wss":
		scheme, defaultPort, secure = "wss", "443", true
	default:
		return brokerEndpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBroker, u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	host := net.JoinHostPort(u.Hostname(), port)

	ep := brokerEndpoint{secure: secure}
	switch scheme {
	case "ws", "wss":
		ep.server = scheme + "://" + host + u.EscapedPath()
	default:
		ep.server = scheme + "://" + host
	}
	if u.User != nil {
		ep.username = u.User.Username()
		ep.password, _ = u.User.Password()
	}
	return ep, nil
}

// buildClientOptions creates paho MQTT options from bridge config.
//
// This configures:
//   - Broker URL translated from mqtt/mqtts/tcp/tls/ws/wss
//   - Client ID for identification
//   - Authentication credentials (config wins over URL userinfo)
//   - Auto-reconnect with exponential backoff
//   - Connect retry, so publishes made before the first connect are queued
//   - TLS configuration for secure schemes
//   - Last Will and Testament, if provided
func buildClientOptions(cfg config.MQTTConfig, o Options) (*pahomqtt.ClientOptions, error) {
	ep, err := parseBroker(cfg.Broker)
	if err != nil {
		return nil, err
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(ep.server)
	opts.SetClientID(o.ClientID)

	username, password := ep.username, ep.password
	if cfg.Auth.Username != "" {
		username, password = cfg.Auth.Username, cfg.Auth.Password
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(secondsOr(cfg.Reconnect.InitialDelay, time.Second))
	opts.SetMaxReconnectInterval(secondsOr(cfg.Reconnect.MaxDelay, time.Minute))

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if ep.secure {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if o.Will != nil {
		configureLWT(opts, *o.Will)
	}

	return opts, nil
}

// configureLWT registers the will with the broker.
func configureLWT(opts *pahomqtt.ClientOptions, w Will) {
	opts.SetWill(w.Topic, w.Payload, w.QoS, w.Retained)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
