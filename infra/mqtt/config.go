package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/vda5050/auth"
)

// Config defines the connection parameters for the Paho MQTT transport.
type Config struct {
	// Broker is the full URL, e.g. tcp://localhost:1883. When empty it is
	// built from BrokerHost and BrokerPort.
	Broker     string `json:"broker"`
	BrokerHost string `json:"broker_host"`
	BrokerPort int    `json:"broker_port"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	// AuthMethod is one of "", "username_password", "certificate", "both"
	// or "oauth2". With "oauth2" the password is a client-credentials
	// access token fetched before every connection attempt.
	AuthMethod string    `json:"auth_method"`
	OAuth2     auth.Conf `json:"oauth2"`

	CleanSession     *bool `json:"clean_session"`
	ConnectTimeoutMS int   `json:"connect_timeout_ms"`
	KeepAliveSeconds int   `json:"keep_alive_seconds"`
	WriteTimeoutMS   int   `json:"write_timeout_ms"`

	ReconnectMinMS int `json:"reconnect_min_ms"`
	ReconnectMaxMS int `json:"reconnect_max_ms"`
	// ReconnectJitter randomizes each interval by this factor. Unset means
	// 0.2; an explicit 0 gives exact doubling.
	ReconnectJitter *float64 `json:"reconnect_jitter"`
	// ReconnectMaxElapsedMS gives up reconnecting after this long. Zero
	// retries until Disconnect.
	ReconnectMaxElapsedMS int `json:"reconnect_max_elapsed_ms"`

	LWTTopic   string `json:"lwt_topic"`
	LWTPayload string `json:"lwt_payload"`
	LWTQoS     byte   `json:"lwt_qos"`
	LWTRetain  bool   `json:"lwt_retain"`

	TLSConfig *tls.Config `json:"-"`
}

// SetDefaults fills unset timing parameters.
func (c *Config) SetDefaults() {
	if c.Broker == "" && c.BrokerHost != "" {
		port := c.BrokerPort
		if port == 0 {
			port = 1883
		}
		scheme := "tcp"
		if c.UseTLS {
			scheme = "ssl"
		}
		c.Broker = scheme + "://" + c.BrokerHost + ":" + strconv.Itoa(port)
	}
	if c.CleanSession == nil {
		clean := true
		c.CleanSession = &clean
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 10_000
	}
	if c.KeepAliveSeconds <= 0 {
		c.KeepAliveSeconds = 30
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 5_000
	}
	if c.ReconnectMinMS <= 0 {
		c.ReconnectMinMS = 500
	}
	if c.ReconnectMaxMS <= 0 {
		c.ReconnectMaxMS = 30_000
	}
	if c.ReconnectJitter == nil {
		jitter := 0.2
		c.ReconnectJitter = &jitter
	}
}

// Validate checks the broker address and the reconnect policy.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker or broker_host is required")
	}
	if !strings.Contains(c.Broker, "://") {
		return fmt.Errorf("mqtt: broker %q must include a scheme", c.Broker)
	}
	if c.ReconnectMaxMS < c.ReconnectMinMS {
		return fmt.Errorf("mqtt: reconnect_max_ms %d below reconnect_min_ms %d", c.ReconnectMaxMS, c.ReconnectMinMS)
	}
	if j := c.jitter(); j < 0 || j >= 1 {
		return fmt.Errorf("mqtt: reconnect_jitter must be in [0,1)")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	case "oauth2":
		if err := c.OAuth2.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	return nil
}

func (c Config) jitter() float64 {
	if c.ReconnectJitter == nil {
		return 0
	}
	return *c.ReconnectJitter
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// NewClientOptions builds paho client options from Config. Paho's own
// reconnect logic is disabled; the Transport runs its own loop.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "vda5050-" + uuid.NewString()
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	clean := true
	if cfg.CleanSession != nil {
		clean = *cfg.CleanSession
	}
	opts.SetCleanSession(clean)
	if cfg.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(cfg.connectTimeout())
	}
	if cfg.KeepAliveSeconds > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second)
	}
	if cfg.WriteTimeoutMS > 0 {
		opts.SetWriteTimeout(cfg.writeTimeout())
	}
	if cfg.AuthMethod == "oauth2" && cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}
