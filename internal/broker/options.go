package broker

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/cloudlink-core/internal/credentials"
	"github.com/nerrad567/cloudlink-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is the maximum time to wait for SUBACK/UNSUBACK.
	defaultAckTimeout = 5 * time.Second

	// defaultFetchTimeout bounds the HTTP state fetch made after a subscribe.
	defaultFetchTimeout = 15 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultPort is the plain MQTT port.
	defaultPort = 1883

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDSuffixLen keeps generated ids within the 23 characters MQTT 3.1
	// brokers accept.
	clientIDSuffixLen = 12
)

// newClientID returns "<prefix>-<random>".
func newClientID(prefix string) string {
	if prefix == "" {
		prefix = "cloudlink"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:clientIDSuffixLen]
	return prefix + "-" + suffix
}

// brokerURL turns host into a paho broker URL. host may be a bare name, a
// host:port pair, or a full tcp://, ssl:// or ws:// URL.
func brokerURL(cfg config.MQTTConfig, host string) string {
	if strings.Contains(host, "://") {
		return host
	}

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return fmt.Sprintf("%s://%s", scheme, host)
	}

	port := cfg.Broker.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// buildClientOptions creates paho options for one connection.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Credentials derived from the cloud login
//   - Clean session, so subscriptions are re-issued by us on every connect
//   - Ordered delivery, so per-topic order reaches the router unchanged
//   - No connect retry: a refused handshake is reported, not retried
//   - Auto-reconnect of an established session, if configured
func buildClientOptions(cfg config.MQTTConfig, url string, creds credentials.BrokerCredentials, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(url)
	opts.SetClientID(clientID)
	opts.SetUsername(creds.Username)
	opts.SetPassword(creds.Password)

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.Reconnect.Auto)
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS || strings.HasPrefix(url, "ssl://") || strings.HasPrefix(url, "tls://") {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
