package mqtt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
	if _, err := (Config{UseTLS: true}).LoadTLSConfig(); err == nil {
		t.Fatalf("expected error without files")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", Username: "u", AuthMethod: "certificate"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "" {
		t.Fatalf("username must not be sent with certificate auth")
	}
}

func TestNewClientOptionsTransportSettings(t *testing.T) {
	clean := false
	cfg := Config{Broker: "tcp://localhost:1883", CleanSession: &clean, KeepAliveSeconds: 7}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Fatalf("paho reconnect must be disabled")
	}
	if !opts.Order {
		t.Fatalf("ordered delivery must be enabled")
	}
	if opts.CleanSession {
		t.Fatalf("clean session not applied")
	}
	if opts.KeepAlive != 7 {
		t.Fatalf("keep alive not applied: %d", opts.KeepAlive)
	}
	if len(opts.ClientID) == 0 {
		t.Fatalf("client id not generated")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{BrokerHost: "broker.local", BrokerPort: 1884}
	cfg.SetDefaults()
	if cfg.Broker != "tcp://broker.local:1884" {
		t.Fatalf("unexpected broker %q", cfg.Broker)
	}
	if cfg.CleanSession == nil || !*cfg.CleanSession {
		t.Fatalf("clean session should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := Config{Broker: "localhost:1883"}
	bad.SetDefaults()
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing scheme error")
	}
	bad = Config{Broker: "tcp://x:1", ReconnectMinMS: 100, ReconnectMaxMS: 10}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected reconnect range error")
	}
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected missing broker error")
	}
}
