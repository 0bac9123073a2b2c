package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  use_tls: false
client:
  manufacturer: "acme"
  serial_number: "agv1"
  validate_messages: false
  qos: 0
  header_id_offset: 10
simulator:
  vehicles: 3
  battery: small
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "nop"
journal:
  backend: jsonl_rotating
  path: /tmp/journal.jsonl
sentry:
  environment: test
  server_name: agv-host
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"username", cfg.MQTT.Username, "user"},
		{"password", cfg.MQTT.Password, "pass"},
		{"use_tls", cfg.MQTT.UseTLS, false},
		{"reconnect_min_ms default", cfg.MQTT.ReconnectMinMS, 500},
		{"manufacturer", cfg.Client.Manufacturer, "acme"},
		{"serial_number", cfg.Client.SerialNumber, "agv1"},
		{"interface_name default", cfg.Client.InterfaceName, "uagv"},
		{"protocol_version default", cfg.Client.ProtocolVersion, "2.0.0"},
		{"validate_messages", cfg.Client.Validation(), false},
		{"qos", *cfg.Client.QoS, 0},
		{"header_id_offset", cfg.Client.HeaderIDOffset, uint32(10)},
		{"simulator.vehicles", cfg.Simulator.Vehicles, 3},
		{"simulator.battery", cfg.Simulator.Battery, "small"},
		{"simulator.state_interval_ms default", cfg.Simulator.StateIntervalMS, 30_000},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"journal.backend", cfg.Journal.Backend, "jsonl_rotating"},
		{"journal.max_backups default", cfg.Journal.MaxBackups, 3},
		{"sentry.environment", cfg.Sentry.Environment, "test"},
		{"sentry.server_name", cfg.Sentry.ServerName, "agv-host"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	path := writeFile(t, "config.json", `{"mqtt":{"broker":"tcp://a:1883"},"client":{"manufacturer":"acme","serial_number":"agv1"}}`)
	t.Setenv("K_MQTT__BROKER", "tcp://b:1883")
	t.Setenv("K_CLIENT__SERIAL_NUMBER", "agv9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("broker not overridden: %s", cfg.MQTT.Broker)
	}
	if cfg.Client.SerialNumber != "agv9" {
		t.Errorf("serial not overridden: %s", cfg.Client.SerialNumber)
	}
	if cfg.Client.Manufacturer != "acme" {
		t.Errorf("manufacturer lost: %s", cfg.Client.Manufacturer)
	}
}

func TestLoadBrokerHostAndPort(t *testing.T) {
	path := writeFile(t, "config.yaml", "mqtt:\n  broker_host: broker.local\n  broker_port: 8883\n  use_tls: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.MQTT.Broker != "ssl://broker.local:8883" {
		t.Errorf("unexpected broker %s", cfg.MQTT.Broker)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		wantErr string
	}{
		{"format", "config.toml", "x = 1", "unsupported config format"},
		{"missing broker", "config.yaml", "client:\n  manufacturer: acme\n", "broker"},
		{"journal backend", "config.yaml", "mqtt:\n  broker: tcp://a:1\njournal:\n  backend: csv\n", "unknown backend"},
		{"battery", "config.yaml", "mqtt:\n  broker: tcp://a:1\nsimulator:\n  battery: huge\n", "simulator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
